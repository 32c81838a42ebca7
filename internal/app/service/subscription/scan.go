package subscription

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/entitlement/internal/models"
	"github.com/fatflowers/entitlement/pkg/types"
)

// ScanFields are the user columns admin listings may filter and sort on.
var ScanFields = []string{
	"id",
	"email",
	"subscription_status",
	"subscription_plan",
	"subscription_platform",
	"subscription_start_date",
	"subscription_end_date",
	"subscription_current_transaction_id",
	"subscription_original_transaction_id",
	"subscription_purchase_token",
	"created_at",
	"updated_at",
}

type ScanSubscriptionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanSubscriptionsResponse struct {
	Items []*models.User `json:"items"`
	Total int64          `json:"total"`
}

// Scan pages through users and their subscription records.
func (s *Service) Scan(ctx context.Context, req *ScanSubscriptionsRequest) (*ScanSubscriptionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	for _, f := range req.Filters {
		if err := f.Validate(ScanFields); err != nil {
			return nil, err
		}
	}
	if req.SortBy != "" && !lo.Contains(ScanFields, req.SortBy) {
		return nil, fmt.Errorf("sort field not allowed: %s", req.SortBy)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.Size > 200 {
		req.Size = 200
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.User{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersWhere(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "updated_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.User
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	for _, u := range rows {
		u.Subscription.Status = u.Subscription.Status.Normalize()
	}
	return &ScanSubscriptionsResponse{Items: rows, Total: total}, nil
}

// ListLogs returns the audit trail of one user, newest first.
func (s *Service) ListLogs(ctx context.Context, userID string, from, size int) ([]*models.SubscriptionLog, error) {
	if size <= 0 {
		size = 100
	}
	var rows []*models.SubscriptionLog
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Order("id desc").
		Limit(size)
	if from > 0 {
		q = q.Offset(from)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscription logs: %w", err)
	}
	return rows, nil
}
