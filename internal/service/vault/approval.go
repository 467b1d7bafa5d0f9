package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"keyhaven/internal/domain"
	models "keyhaven/internal/domain/models/vault"
	"keyhaven/internal/domain/repositories"
	vaultRepo "keyhaven/internal/domain/repositories/vault"
	vaultSvc "keyhaven/internal/domain/services/vault"
)

type approvalService struct {
	envRepo     vaultRepo.EnvironmentRepository
	policyRepo  vaultRepo.ApprovalPolicyRepository
	requestRepo vaultRepo.ApprovalRequestRepository
	txManager   repositories.TransactionManager
	logger      *slog.Logger
}

// NewApprovalService creates an approval service
func NewApprovalService(
	envRepo vaultRepo.EnvironmentRepository,
	policyRepo vaultRepo.ApprovalPolicyRepository,
	requestRepo vaultRepo.ApprovalRequestRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) vaultSvc.ApprovalService {
	return &approvalService{
		envRepo:     envRepo,
		policyRepo:  policyRepo,
		requestRepo: requestRepo,
		txManager:   txManager,
		logger:      logger,
	}
}

// policyMatches reports whether a policy glob covers secretPath. A trailing
// "/**" also covers every descendant.
func policyMatches(pattern, secretPath string) bool {
	if pattern == secretPath {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if prefix == "" || secretPath == prefix || strings.HasPrefix(secretPath, prefix+"/") {
			return true
		}
	}
	matched, err := path.Match(pattern, secretPath)
	return err == nil && matched
}

func (s *approvalService) GetPolicy(ctx context.Context, projectID, envSlug, secretPath string) (*models.ApprovalPolicy, error) {
	env, err := s.envRepo.GetBySlug(ctx, projectID, envSlug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	normalized, err := NormalizeSecretPath(secretPath)
	if err != nil {
		return nil, err
	}

	policies, err := s.policyRepo.ListByEnv(ctx, projectID, env.ID)
	if err != nil {
		return nil, fmt.Errorf("list approval policies: %w", err)
	}
	for i := range policies {
		if policyMatches(policies[i].SecretPath, normalized) {
			return &policies[i], nil
		}
	}
	return nil, nil
}

func (s *approvalService) CreateReplicationRequest(ctx context.Context, req *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	err := validation.ValidateStruct(req,
		validation.Field(&req.FolderID, validation.Required),
		validation.Field(&req.PolicyID, validation.Required),
		validation.Field(&req.CommitterUserID, validation.Required),
		validation.Field(&req.Commits, validation.Required),
	)
	if err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	req.Slug = strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	req.Status = models.ApprovalStatusOpen
	req.HasMerged = false
	req.IsReplicated = true

	// the request row and its commits land together or not at all
	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		return s.requestRepo.Create(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	s.logger.Info("replication approval request created",
		"request_id", req.ID,
		"folder_id", req.FolderID,
		"policy_id", req.PolicyID,
		"commits", len(req.Commits),
	)
	return req, nil
}
