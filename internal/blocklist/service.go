package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"iptrack/internal/database"
	"iptrack/internal/domain"
	"iptrack/internal/support"
)

// DefaultReason is recorded for manual blocks that carry no reason.
const DefaultReason = "Manually blocked"

var (
	ErrInvalidAddress = errors.New("invalid ip address")
	ErrInvalidReason  = errors.New("invalid block reason")
)

// InvalidAddressError carries the rejected input.
type InvalidAddressError struct {
	Address string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("%q is not a valid IP address", e.Address)
}

func (e *InvalidAddressError) Unwrap() error {
	return ErrInvalidAddress
}

// InvalidReasonError rejects a reason longer than the stored column.
type InvalidReasonError struct {
	Length int
}

func (e *InvalidReasonError) Error() string {
	return fmt.Sprintf("reason is %d characters long, at most %d are allowed", e.Length, domain.MaxReasonLength)
}

func (e *InvalidReasonError) Unwrap() error {
	return ErrInvalidReason
}

type Store interface {
	BlockIP(ctx context.Context, address string, reason *string) (domain.BlockedIP, bool, error)
	UnblockIP(ctx context.Context, address string) (bool, error)
	UpdateBlockedReason(ctx context.Context, address string, reason *string) (domain.BlockedIP, error)
	PromoteSuspiciousIP(ctx context.Context, address string) (domain.BlockedIP, bool, error)
}

// Service applies operator actions to the block list.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func normalize(raw string) (string, error) {
	address := support.NormalizeIP(raw)
	if address == "" {
		return "", &InvalidAddressError{Address: raw}
	}
	return address, nil
}

// normalizeReason trims reason and maps blank to nil.
func normalizeReason(reason string) (*string, error) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil, nil
	}
	if n := utf8.RuneCountInString(trimmed); n > domain.MaxReasonLength {
		return nil, &InvalidReasonError{Length: n}
	}
	return &trimmed, nil
}

// Block adds raw to the block list. An already blocked address keeps its
// original reason and is reported with created=false. A blank reason is
// stored as NULL.
func (s *Service) Block(ctx context.Context, raw, reason string) (domain.BlockedIP, bool, error) {
	address, err := normalize(raw)
	if err != nil {
		return domain.BlockedIP{}, false, err
	}

	reasonPtr, err := normalizeReason(reason)
	if err != nil {
		return domain.BlockedIP{}, false, err
	}

	entry, created, err := s.store.BlockIP(ctx, address, reasonPtr)
	if err != nil {
		return domain.BlockedIP{}, false, err
	}
	if created {
		log.Info("IP blocked", "ip", address, "reason", entry.ReasonOrEmpty())
	}
	return entry, created, nil
}

func (s *Service) Unblock(ctx context.Context, raw string) (bool, error) {
	address, err := normalize(raw)
	if err != nil {
		return false, err
	}

	removed, err := s.store.UnblockIP(ctx, address)
	if err != nil {
		return false, err
	}
	if removed {
		log.Info("IP unblocked", "ip", address)
	}
	return removed, nil
}

// UpdateReason corrects the reason of an existing block entry. A blank
// reason clears it.
func (s *Service) UpdateReason(ctx context.Context, raw, reason string) (domain.BlockedIP, error) {
	address, err := normalize(raw)
	if err != nil {
		return domain.BlockedIP{}, err
	}
	reasonPtr, err := normalizeReason(reason)
	if err != nil {
		return domain.BlockedIP{}, err
	}

	entry, err := s.store.UpdateBlockedReason(ctx, address, reasonPtr)
	if err != nil {
		return domain.BlockedIP{}, err
	}
	log.Info("Block reason updated", "ip", address, "reason", entry.ReasonOrEmpty())
	return entry, nil
}

// PromoteOutcome reports the block entry for a promoted address and whether
// this call created it.
type PromoteOutcome struct {
	Address string           `json:"ip_address"`
	Entry   domain.BlockedIP `json:"entry"`
	Created bool             `json:"created"`
	Error   string           `json:"error,omitempty"`
}

// Promote blocks a suspicious address using its detection reason. Promoting
// twice is a successful no-op.
func (s *Service) Promote(ctx context.Context, raw string) (PromoteOutcome, error) {
	address, err := normalize(raw)
	if err != nil {
		return PromoteOutcome{Address: raw}, err
	}

	entry, created, err := s.store.PromoteSuspiciousIP(ctx, address)
	if err != nil {
		return PromoteOutcome{Address: address}, err
	}
	if created {
		log.Info("Suspicious IP promoted to block list", "ip", address, "reason", entry.ReasonOrEmpty())
	}
	return PromoteOutcome{Address: address, Entry: entry, Created: created}, nil
}

// PromoteAll promotes each address independently. Failures are reported per
// address; the returned error is non-nil only if ctx was canceled.
func (s *Service) PromoteAll(ctx context.Context, addresses []string) ([]PromoteOutcome, error) {
	outcomes := make([]PromoteOutcome, 0, len(addresses))
	for _, raw := range addresses {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome, err := s.Promote(ctx, raw)
		if err != nil {
			outcome.Error = err.Error()
			if !errors.Is(err, database.ErrSuspiciousNotFound) && !errors.Is(err, ErrInvalidAddress) {
				log.Error("Failed to promote suspicious IP", "ip", raw, "error", err)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
