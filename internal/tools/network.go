package tools

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// NetworkTools inspects EC2 instances, security groups and VPC wiring.
type NetworkTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewNetworkTools(client *cloudclient.Client, logger *zap.Logger) *NetworkTools {
	return &NetworkTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *NetworkTools) Register(reg *Registry) {
	reg.Set("get_instance_status",
		"Fetch an EC2 instance's state and system/instance status checks",
		t.GetInstanceStatus)
	reg.Set("get_security_groups",
		"Fetch security group rules for an instance or group IDs",
		t.GetSecurityGroups)
	reg.Set("get_vpc_config",
		"Fetch a VPC's subnets and route summary",
		t.GetVPCConfig)
}

// GetInstanceStatus returns the instance state plus its status checks, which
// is where hardware and reachability failures surface.
func (t *NetworkTools) GetInstanceStatus(ctx context.Context, args map[string]any) string {
	instanceID := stringArg(args, "instance_id")
	if instanceID == "" {
		return Failure("instance_id is required", args)
	}

	desc, err := t.client.EC2().DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	payload := map[string]any{"instance_id": instanceID}
	for _, res := range desc.Reservations {
		for _, inst := range res.Instances {
			payload["state"] = string(inst.State.Name)
			payload["instance_type"] = string(inst.InstanceType)
			payload["vpc_id"] = aws.ToString(inst.VpcId)
			payload["subnet_id"] = aws.ToString(inst.SubnetId)
			payload["launch_time"] = fmtTime(inst.LaunchTime)
			if inst.StateReason != nil {
				payload["state_reason"] = aws.ToString(inst.StateReason.Message)
			}
			groups := make([]string, 0, len(inst.SecurityGroups))
			for _, g := range inst.SecurityGroups {
				groups = append(groups, aws.ToString(g.GroupId))
			}
			payload["security_group_ids"] = groups
		}
	}

	status, err := t.client.EC2().DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{instanceID},
		IncludeAllInstances: aws.Bool(true),
	})
	if err == nil {
		for _, s := range status.InstanceStatuses {
			if s.SystemStatus != nil {
				payload["system_status"] = string(s.SystemStatus.Status)
			}
			if s.InstanceStatus != nil {
				payload["instance_status"] = string(s.InstanceStatus.Status)
			}
		}
	}

	return Success(args, map[string]any{"instance": payload})
}

// GetSecurityGroups returns rule summaries for the given group IDs.
func (t *NetworkTools) GetSecurityGroups(ctx context.Context, args map[string]any) string {
	var groupIDs []string
	if raw, ok := args["group_ids"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				groupIDs = append(groupIDs, s)
			}
		}
	}
	if id := stringArg(args, "group_id"); id != "" {
		groupIDs = append(groupIDs, id)
	}
	if len(groupIDs) == 0 {
		return Failure("group_id or group_ids is required", args)
	}

	out, err := t.client.EC2().DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: groupIDs,
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	groups := make([]map[string]any, 0, len(out.SecurityGroups))
	for _, g := range out.SecurityGroups {
		ingress := make([]map[string]any, 0, len(g.IpPermissions))
		for _, p := range g.IpPermissions {
			rule := map[string]any{
				"protocol":  aws.ToString(p.IpProtocol),
				"from_port": aws.ToInt32(p.FromPort),
				"to_port":   aws.ToInt32(p.ToPort),
			}
			cidrs := make([]string, 0, len(p.IpRanges))
			for _, r := range p.IpRanges {
				cidrs = append(cidrs, aws.ToString(r.CidrIp))
			}
			rule["cidrs"] = cidrs
			ingress = append(ingress, rule)
		}
		groups = append(groups, map[string]any{
			"group_id":      aws.ToString(g.GroupId),
			"group_name":    aws.ToString(g.GroupName),
			"vpc_id":        aws.ToString(g.VpcId),
			"ingress_rules": ingress,
			"egress_count":  len(g.IpPermissionsEgress),
		})
	}

	return Success(args, map[string]any{
		"security_groups": groups,
		"group_count":     len(groups),
	})
}

// GetVPCConfig returns the VPC with its subnets and route tables.
func (t *NetworkTools) GetVPCConfig(ctx context.Context, args map[string]any) string {
	vpcID := stringArg(args, "vpc_id")
	if vpcID == "" {
		return Failure("vpc_id is required", args)
	}

	vpcs, err := t.client.EC2().DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{vpcID},
	})
	if err != nil {
		return Failure(awsError(err), args)
	}
	if len(vpcs.Vpcs) == 0 {
		return Failure("vpc "+vpcID+" not found", args)
	}

	payload := map[string]any{
		"vpc_id":     vpcID,
		"cidr_block": aws.ToString(vpcs.Vpcs[0].CidrBlock),
		"state":      string(vpcs.Vpcs[0].State),
	}

	vpcFilter := []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}}

	subnets, err := t.client.EC2().DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: vpcFilter})
	if err == nil {
		entries := make([]map[string]any, 0, len(subnets.Subnets))
		for _, s := range subnets.Subnets {
			entries = append(entries, map[string]any{
				"subnet_id":         aws.ToString(s.SubnetId),
				"availability_zone": aws.ToString(s.AvailabilityZone),
				"available_ips":     aws.ToInt32(s.AvailableIpAddressCount),
			})
		}
		payload["subnets"] = entries
	}

	routes, err := t.client.EC2().DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{Filters: vpcFilter})
	if err == nil {
		hasIGW := false
		hasNAT := false
		for _, rt := range routes.RouteTables {
			for _, r := range rt.Routes {
				if gw := aws.ToString(r.GatewayId); len(gw) > 4 && gw[:4] == "igw-" {
					hasIGW = true
				}
				if aws.ToString(r.NatGatewayId) != "" {
					hasNAT = true
				}
			}
		}
		payload["route_table_count"] = len(routes.RouteTables)
		payload["has_internet_gateway_route"] = hasIGW
		payload["has_nat_gateway_route"] = hasNAT
	}

	return Success(args, map[string]any{"vpc": payload})
}
