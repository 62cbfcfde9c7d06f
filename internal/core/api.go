package core

import (
	"time"

	"pixvault/internal/asset"
)

// ImageMetadata is the JSON body returned by the metadata and upload
// endpoints.
type ImageMetadata struct {
	Name          string    `json:"name"`
	SizeBytes     int64     `json:"size_bytes"`
	Extension     string    `json:"extension"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func newImageMetadata(md asset.Metadata) ImageMetadata {
	return ImageMetadata{
		Name:          md.Name,
		SizeBytes:     md.SizeBytes,
		Extension:     md.Extension,
		LastUpdatedAt: md.LastUpdated,
	}
}

type DeleteResult struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

type InstanceResult struct {
	AvailabilityZone string `json:"az"`
	Region           string `json:"region"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
