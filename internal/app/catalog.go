package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type CatalogConfig struct {
	RegistrationDeadline   time.Duration
	DefaultMinParticipants int
	DefaultMaxParticipants int
}

// SlotInput describes a slot to publish. Zero capacities take the configured defaults.
type SlotInput struct {
	LanguageCode    string            `json:"targetLanguageCode"`
	Level           domain.Level      `json:"level"`
	StartTime       time.Time         `json:"startTime"`
	DurationMinutes int               `json:"durationMinutes"`
	MinParticipants int               `json:"minParticipants"`
	MaxParticipants int               `json:"maxParticipants"`
	Recurrence      domain.Recurrence `json:"recurrence"`
}

// SlotView is a slot with its live availability.
type SlotView struct {
	domain.TimeSlot
	RegisteredCount int  `json:"registeredCount"`
	AvailableSpots  int  `json:"availableSpots"`
	IsAvailable     bool `json:"isAvailable"`
}

// Catalog publishes and lists time slots.
type Catalog struct {
	slots store.SlotStore
	regs  store.RegistrationStore
	cfg   CatalogConfig
	now   func() time.Time
}

func NewCatalog(slots store.SlotStore, regs store.RegistrationStore, cfg CatalogConfig, now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	return &Catalog{slots: slots, regs: regs, cfg: cfg, now: now}
}

func (c *Catalog) Create(ctx context.Context, in SlotInput) (domain.TimeSlot, error) {
	if in.MinParticipants == 0 {
		in.MinParticipants = c.cfg.DefaultMinParticipants
	}
	if in.MaxParticipants == 0 {
		in.MaxParticipants = c.cfg.DefaultMaxParticipants
	}
	if in.Recurrence == "" {
		in.Recurrence = domain.RecurrenceOnce
	}
	if err := validateSlot(in); err != nil {
		return domain.TimeSlot{}, err
	}

	now := c.now()
	slot := domain.TimeSlot{
		ID:              domain.SlotID(uuid.NewString()),
		LanguageCode:    strings.ToLower(strings.TrimSpace(in.LanguageCode)),
		Level:           in.Level,
		StartTime:       in.StartTime.UTC(),
		DurationMinutes: in.DurationMinutes,
		MaxParticipants: in.MaxParticipants,
		MinParticipants: in.MinParticipants,
		Recurrence:      in.Recurrence,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.slots.SaveSlot(ctx, slot); err != nil {
		return domain.TimeSlot{}, fmt.Errorf("save slot: %w", err)
	}
	log.Info().Str("module", "app.catalog").Str("slot", string(slot.ID)).Time("start", slot.StartTime).Msg("slot created")
	return slot, nil
}

func validateSlot(in SlotInput) error {
	switch {
	case strings.TrimSpace(in.LanguageCode) == "":
		return fmt.Errorf("%w: language code required", ErrInvalidSlot)
	case !in.Level.Valid():
		return fmt.Errorf("%w: unknown level %q", ErrInvalidSlot, in.Level)
	case in.StartTime.IsZero():
		return fmt.Errorf("%w: start time required", ErrInvalidSlot)
	case in.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSlot)
	case in.MinParticipants < 1 || in.MaxParticipants < in.MinParticipants:
		return fmt.Errorf("%w: need 1 <= min <= max participants", ErrInvalidSlot)
	}
	switch in.Recurrence {
	case domain.RecurrenceOnce, domain.RecurrenceDaily, domain.RecurrenceWeekly:
		return nil
	}
	return fmt.Errorf("%w: unknown recurrence %q", ErrInvalidSlot, in.Recurrence)
}

// Deactivate hides a slot from booking. Slots are never deleted.
func (c *Catalog) Deactivate(ctx context.Context, id domain.SlotID) error {
	slot, err := c.slots.FindSlot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSlotNotFound
	}
	if err != nil {
		return fmt.Errorf("find slot: %w", err)
	}
	if !slot.Active {
		return nil
	}
	slot.Active = false
	slot.UpdatedAt = c.now()
	if err := c.slots.SaveSlot(ctx, slot); err != nil {
		return fmt.Errorf("save slot: %w", err)
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, id domain.SlotID) (SlotView, error) {
	slot, err := c.slots.FindSlot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return SlotView{}, ErrSlotNotFound
	}
	if err != nil {
		return SlotView{}, fmt.Errorf("find slot: %w", err)
	}
	return c.view(ctx, slot)
}

// List returns active slots matching filter.
func (c *Catalog) List(ctx context.Context, filter store.SlotFilter) ([]SlotView, error) {
	filter.ActiveOnly = true
	slots, err := c.slots.ListSlots(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	out := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		v, err := c.view(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Catalog) view(ctx context.Context, slot domain.TimeSlot) (SlotView, error) {
	n, err := c.regs.CountRegistrationsBySlot(ctx, slot.ID, domain.RegistrationRegistered)
	if err != nil {
		return SlotView{}, fmt.Errorf("count registrations: %w", err)
	}
	spots := max(slot.MaxParticipants-n, 0)
	open := !c.now().After(slot.StartTime.Add(-c.cfg.RegistrationDeadline))
	return SlotView{
		TimeSlot:        slot,
		RegisteredCount: n,
		AvailableSpots:  spots,
		IsAvailable:     slot.Active && spots > 0 && open,
	}, nil
}
