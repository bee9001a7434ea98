package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// ContactService finds or creates the remote contact for an order's customer.
type ContactService struct {
	api    RemoteCaller
	logger *slog.Logger
}

// NewContactService creates a new contact service.
func NewContactService(api RemoteCaller, logger *slog.Logger) *ContactService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactService{api: api, logger: logger}
}

type contactList struct {
	Contacts []domain.RemoteContact `json:"contacts"`
}

// FindOrCreate looks the customer up by the configured match key and creates a contact when none matches.
func (s *ContactService) FindOrCreate(ctx context.Context, order *domain.Order, key domain.ContactMatchKey) (*domain.RemoteContact, error) {
	value := order.ContactKey(key)
	if value == "" {
		return nil, fmt.Errorf("%w: order %s has no %s to match a contact on", domain.ErrInvalidInput, order.ID, key)
	}

	existing, err := s.Find(ctx, key, value)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	name := strings.TrimSpace(order.CustomerName)
	if name == "" {
		name = order.CustomerEmail
	}
	var created domain.RemoteContact
	err = s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "create_contact",
		Method:    http.MethodPost,
		Path:      "/contacts",
		Body: domain.RemoteContact{
			Name:  name,
			Email: strings.TrimSpace(order.CustomerEmail),
			Phone: strings.TrimSpace(order.CustomerPhone),
		},
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	s.logger.Info("created remote contact", "record_id", order.ID, "contact_id", created.ID)
	return &created, nil
}

// Find returns the first contact whose key field equals value, or nil.
func (s *ContactService) Find(ctx context.Context, key domain.ContactMatchKey, value string) (*domain.RemoteContact, error) {
	var list contactList
	err := s.api.Call(ctx, &driven.RemoteRequest{
		Operation: "find_contact",
		Method:    http.MethodGet,
		Path:      "/contacts",
		Query:     url.Values{string(key): {value}},
	}, &list)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}

	for i := range list.Contacts {
		if contactMatches(&list.Contacts[i], key, value) {
			return &list.Contacts[i], nil
		}
	}
	return nil, nil
}

func contactMatches(c *domain.RemoteContact, key domain.ContactMatchKey, value string) bool {
	switch key {
	case domain.ContactMatchName:
		return strings.EqualFold(strings.TrimSpace(c.Name), value)
	case domain.ContactMatchPhone:
		return strings.TrimSpace(c.Phone) == value
	default:
		return strings.EqualFold(strings.TrimSpace(c.Email), value)
	}
}
