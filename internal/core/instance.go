package core

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Instance describes where the server is running.
type Instance struct {
	AvailabilityZone string
	Region           string
}

// InstanceInfo reports the placement of the running server.
type InstanceInfo interface {
	Describe(ctx context.Context) (Instance, error)
}

// StaticInstanceInfo reports fixed values, for use outside EC2.
type StaticInstanceInfo struct {
	AvailabilityZone string
	Region           string
}

func (s StaticInstanceInfo) Describe(context.Context) (Instance, error) {
	az := s.AvailabilityZone
	if az == "" {
		az = "local"
	}
	return Instance{AvailabilityZone: az, Region: s.Region}, nil
}

// EC2InstanceInfo reads the placement from the EC2 instance metadata service.
type EC2InstanceInfo struct {
	client *ec2metadata.EC2Metadata
}

// NewEC2InstanceInfo creates a metadata client. endpoint overrides the
// metadata service address when not empty.
func NewEC2InstanceInfo(endpoint string) (*EC2InstanceInfo, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	cfg := aws.NewConfig()
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}

	return &EC2InstanceInfo{client: ec2metadata.New(sess, cfg)}, nil
}

func (e *EC2InstanceInfo) Describe(ctx context.Context) (Instance, error) {
	doc, err := e.client.GetInstanceIdentityDocumentWithContext(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("read instance identity document: %w", err)
	}
	return Instance{AvailabilityZone: doc.AvailabilityZone, Region: doc.Region}, nil
}
