package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/shared"
)

// ScopeSource yields the document scope of the signed-in operator.
type ScopeSource interface {
	Scope() (docstore.Scope, error)
}

// Service validates and writes inventory items.
type Service struct {
	store    docstore.Store
	scopes   ScopeSource
	validate *validator.Validate
	notices  *shared.NoticeBoard
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(store docstore.Store, scopes ScopeSource, notices *shared.NoticeBoard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, scopes: scopes, validate: NewValidator(), notices: notices, logger: logger}
}

// Create validates item and stores it under a new id.
func (s *Service) Create(ctx context.Context, item Item) (Item, error) {
	col, err := s.collection()
	if err != nil {
		return Item{}, err
	}
	item = normalise(item)
	if err := Validate(s.validate, item); err != nil {
		s.notices.Error(shared.UserMessage(err))
		return Item{}, err
	}
	id, err := col.Insert(ctx, item)
	if err != nil {
		return Item{}, s.writeFailed("adding", "inventory.create", err)
	}
	item.ID = id
	s.notices.Success("Drug added successfully!")
	return item, nil
}

// Update replaces every field of the item with id. The id itself never changes.
func (s *Service) Update(ctx context.Context, id string, item Item) (Item, error) {
	col, err := s.collection()
	if err != nil {
		return Item{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Item{}, &shared.ValidationError{Field: "id", Message: "Item id is required."}
	}
	item = normalise(item)
	if err := Validate(s.validate, item); err != nil {
		s.notices.Error(shared.UserMessage(err))
		return Item{}, err
	}
	if err := col.Replace(ctx, id, item); err != nil {
		return Item{}, s.writeFailed("updating", "inventory.update", err)
	}
	item.ID = id
	s.notices.Success("Drug updated successfully!")
	return item, nil
}

// Delete removes the item with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	col, err := s.collection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, id); err != nil {
		return s.writeFailed("deleting", "inventory.delete", err)
	}
	s.notices.Success("Drug deleted successfully!")
	return nil
}

func (s *Service) collection() (*docstore.Collection[Item], error) {
	scope, err := s.scopes.Scope()
	if err != nil {
		s.notices.Error(shared.UserMessage(err))
		return nil, err
	}
	return NewCollection(s.store, scope), nil
}

func (s *Service) writeFailed(verb, op string, err error) error {
	s.logger.Error("inventory write failed", slog.String("op", op), slog.Any("error", err))
	s.notices.Error(fmt.Sprintf("Error %s drug: %v", verb, err))
	return &shared.CommitFailure{Op: op, Err: err}
}

func normalise(item Item) Item {
	item.ID = ""
	item.Name = strings.TrimSpace(item.Name)
	item.GenericName = strings.TrimSpace(item.GenericName)
	item.Manufacturer = strings.TrimSpace(item.Manufacturer)
	item.BatchNumber = strings.TrimSpace(item.BatchNumber)
	return item
}
