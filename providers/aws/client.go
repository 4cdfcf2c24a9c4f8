package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

type pricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Client looks up the backend host's EC2 instance and its on-demand price
type Client struct {
	ec2Client     ec2API
	pricingClient pricingAPI
	region        string
}

// InstanceInfo is the EC2 view of the backend host
type InstanceInfo struct {
	InstanceID   string
	InstanceType string
	State        string
	PublicIP     string
	PrivateIP    string
}

// pricingRegion is the only region serving the Pricing API
const pricingRegion = "us-east-1"

// NewClient creates a new AWS client for region
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}

	return &Client{
		ec2Client: ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		region: region,
	}, nil
}

// InstanceStatus describes a single EC2 instance
func (c *Client) InstanceStatus(ctx context.Context, instanceID string) (*InstanceInfo, error) {
	out, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			info := &InstanceInfo{
				InstanceID:   aws.ToString(instance.InstanceId),
				InstanceType: string(instance.InstanceType),
				PublicIP:     aws.ToString(instance.PublicIpAddress),
				PrivateIP:    aws.ToString(instance.PrivateIpAddress),
			}
			if instance.State != nil {
				info.State = string(instance.State.Name)
			}
			return info, nil
		}
	}
	return nil, fmt.Errorf("instance %s not found", instanceID)
}

// HourlyPrice returns the Linux on-demand price of instanceType in the
// client's region, falling back to a built-in table when the Pricing API
// cannot answer
func (c *Client) HourlyPrice(ctx context.Context, instanceType string) (float64, error) {
	price, err := c.onDemandPrice(ctx, instanceType)
	if err == nil {
		return price, nil
	}
	if fallback, ok := FallbackHourlyPrice(instanceType); ok {
		return fallback, nil
	}
	return 0, err
}

func (c *Client) onDemandPrice(ctx context.Context, instanceType string) (float64, error) {
	location, ok := regionLocations[c.region]
	if !ok {
		return 0, fmt.Errorf("no pricing location for region %s", c.region)
	}

	term := func(field, value string) pricingtypes.Filter {
		return pricingtypes.Filter{
			Type:  pricingtypes.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(value),
		}
	}

	out, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []pricingtypes.Filter{
			term("instanceType", instanceType),
			term("location", location),
			term("operatingSystem", "Linux"),
			term("tenancy", "Shared"),
			term("preInstalledSw", "NA"),
			term("capacitystatus", "Used"),
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get pricing for %s: %w", instanceType, err)
	}
	if len(out.PriceList) == 0 {
		return 0, fmt.Errorf("no pricing found for %s in %s", instanceType, c.region)
	}
	return parseOnDemandPrice(out.PriceList[0])
}

// priceListItem is the part of a Pricing API product document we read
type priceListItem struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

func parseOnDemandPrice(doc string) (float64, error) {
	var item priceListItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return 0, fmt.Errorf("failed to decode price list: %w", err)
	}
	for _, offer := range item.Terms.OnDemand {
		for _, dim := range offer.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(usd, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid USD price %q: %w", usd, err)
			}
			if price > 0 {
				return price, nil
			}
		}
	}
	return 0, fmt.Errorf("price list has no on-demand USD price")
}

var regionLocations = map[string]string{
	"us-east-1":      "US East (N. Virginia)",
	"us-east-2":      "US East (Ohio)",
	"us-west-1":      "US West (N. California)",
	"us-west-2":      "US West (Oregon)",
	"eu-west-1":      "EU (Ireland)",
	"eu-central-1":   "EU (Frankfurt)",
	"ap-northeast-1": "Asia Pacific (Tokyo)",
	"ap-southeast-1": "Asia Pacific (Singapore)",
}

// on-demand us-east-1 prices for common GPU hosts
var fallbackPrices = map[string]float64{
	"g4dn.xlarge":  0.526,
	"g4dn.2xlarge": 0.752,
	"g5.xlarge":    1.006,
	"g5.2xlarge":   1.212,
	"p3.2xlarge":   3.06,
	"p3.8xlarge":   12.24,
	"p3.16xlarge":  24.48,
	"p4d.24xlarge": 32.77,
}

// FallbackHourlyPrice returns the built-in price for instanceType, if known
func FallbackHourlyPrice(instanceType string) (float64, bool) {
	price, ok := fallbackPrices[instanceType]
	return price, ok
}
