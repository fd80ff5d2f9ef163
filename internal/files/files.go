// Package files proxies uploads and downloads between tenants and the bee
// node pool, accounting traffic against plan quotas.
package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Cafe137/swarmy-backend/internal/hive"
	"github.com/Cafe137/swarmy-backend/internal/organization"
	"github.com/Cafe137/swarmy-backend/internal/usagemetrics"
)

var ErrNoBatch = errors.New("organization has no usable postage batch")

// Service moves file data through the hive.
type Service struct {
	hive   *hive.Hive
	orgs   organization.Store
	usage  *usagemetrics.Service
	logger *slog.Logger
}

// NewService creates a files service.
func NewService(h *hive.Hive, orgs organization.Store, usage *usagemetrics.Service, logger *slog.Logger) *Service {
	return &Service{
		hive:   h,
		orgs:   orgs,
		usage:  usage,
		logger: logger.With("component", "files_service"),
	}
}

// Upload stores data on the organization's pinned node, stamped with its
// batch. Uploads always go through the node that owns the batch; stamping on
// another node would fail.
func (s *Service) Upload(ctx context.Context, orgID int64, data []byte, name, contentType string, asWebsite bool) (string, error) {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return "", err
	}
	if org.PostageBatchID == "" || org.BatchStatus != organization.BatchStatusCreated {
		return "", fmt.Errorf("%w: organization %d", ErrNoBatch, orgID)
	}
	if err := s.usage.IncrementOrFail(ctx, orgID, usagemetrics.TypeUploadedBytes, int64(len(data))); err != nil {
		return "", err
	}

	node, err := s.hive.NodeByID(org.BeeID)
	if err != nil {
		return "", err
	}
	node.BeginUpload()
	defer node.EndUpload()

	reference, err := node.Client.UploadFile(ctx, org.PostageBatchID, data, name, contentType, asWebsite)
	if err != nil {
		return "", err
	}
	s.logger.Info("uploaded file", "reference", reference, "size", len(data), "organizationId", orgID, "beeId", org.BeeID)
	return reference, nil
}

// Download fetches a swarm reference from the least-loaded capable node and
// charges the organization's bandwidth quota for it.
func (s *Service) Download(ctx context.Context, orgID int64, reference string) (*DownloadedFile, error) {
	node, err := s.hive.PickForDownload()
	if err != nil {
		return nil, err
	}
	fd, err := node.Client.DownloadFile(ctx, reference)
	if err != nil {
		return nil, err
	}
	if err := s.usage.IncrementOrFail(ctx, orgID, usagemetrics.TypeDownloadedBytes, int64(len(fd.Data))); err != nil {
		return nil, err
	}
	return &DownloadedFile{
		Data:        fd.Data,
		Name:        fd.Name,
		ContentType: fd.ContentType,
	}, nil
}

// DownloadedFile is a file fetched from the swarm.
type DownloadedFile struct {
	Data        []byte
	Name        string
	ContentType string
}
