package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when a sale cannot move to the requested status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidStatus is returned for an unknown status value.
var ErrInvalidStatus = errors.New("invalid status value")

// transitions lists the status changes a committed sale may go through.
var transitions = map[Status][]Status{
	StatusCommitted: {StatusVoiding},
	StatusVoiding:   {StatusVoided, StatusCommitted},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Service provides high-level sales management operations on a Storage backend.
type Service struct {
	storage Storage
	logger  *zap.Logger
}

// SalesMetadata summarizes a search result.
type SalesMetadata struct {
	Quantity    int             `json:"quantity"`
	Committed   int             `json:"committed"`
	Voiding     int             `json:"voiding"`
	Voided      int             `json:"voided"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// NewService creates a new Service.
func NewService(storage Storage, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Storage exposes the backend for read-only consumers such as reports.
func (s *Service) Storage() Storage {
	return s.storage
}

// Record stores a newly committed sale. Recording the same sale twice is safe.
func (s *Service) Record(ctx context.Context, sale *Sale) error {
	if sale.Status != StatusCommitted {
		return fmt.Errorf("%w: cannot record a sale in status %s", ErrInvalidStatus, sale.Status)
	}
	if err := s.storage.Set(ctx, sale); err != nil {
		s.logger.Error("failed to save sale", zap.String("sale_id", sale.ID), zap.Error(err))
		return fmt.Errorf("failed to save sale: %w", err)
	}

	s.logger.Info("sale recorded",
		zap.String("sale_id", sale.ID),
		zap.Int64("number", sale.Number),
		zap.String("grand_total", sale.GrandTotal.String()),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Sale, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	return s.storage.Read(ctx, id)
}

// SearchSale lists sales, optionally filtered by status, with counts per status.
func (s *Service) SearchSale(ctx context.Context, status string) ([]*Sale, SalesMetadata, error) {
	var parsedStatus Status
	if status != "" {
		st, err := ParseStatus(status)
		if err != nil {
			s.logger.Warn("Invalid status filter provided", zap.String("statusFilter", status))
			return nil, SalesMetadata{}, err
		}
		parsedStatus = st
	}

	allSales, err := s.storage.GetAll(ctx)
	if err != nil {
		s.logger.Error("Failed to get all sales from storage", zap.Error(err))
		return nil, SalesMetadata{}, fmt.Errorf("failed to retrieve sales: %w", err)
	}

	filteredSales := make([]*Sale, 0)
	metadata := SalesMetadata{TotalAmount: decimal.Zero}

	for _, sale := range allSales {
		if parsedStatus != "" && sale.Status != parsedStatus {
			continue
		}

		filteredSales = append(filteredSales, sale)

		metadata.Quantity++
		switch sale.Status {
		case StatusCommitted:
			metadata.Committed++
		case StatusVoiding:
			metadata.Voiding++
		case StatusVoided:
			metadata.Voided++
		}
		if !sale.Voided() {
			metadata.TotalAmount = metadata.TotalAmount.Add(sale.GrandTotal)
		}
	}

	s.logger.Debug("Sales search completed",
		zap.String("status_filter", status),
		zap.Int("results_count", len(filteredSales)),
	)

	return filteredSales, metadata, nil
}

// UpdateSaleStatus moves a sale from one status to the next allowed one.
// It fails with ErrStatusConflict if another caller changed the status first.
func (s *Service) UpdateSaleStatus(ctx context.Context, saleID string, from, to Status) (*Sale, error) {
	if !canTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	sale, err := s.storage.CompareAndSetStatus(ctx, saleID, from, to, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrStatusConflict) {
			s.logger.Error("failed to update sale", zap.String("sale_id", saleID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("sale status updated",
		zap.String("sale_id", saleID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("version", sale.Version),
	)
	return sale, nil
}
