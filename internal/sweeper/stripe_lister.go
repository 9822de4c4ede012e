package sweeper

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeLister is the production SubscriptionLister backed by the Stripe API.
type StripeLister struct {
	api *client.API
}

// NewStripeLister constructs a StripeLister from an API key.
func NewStripeLister(apiKey string) *StripeLister {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	return &StripeLister{api: client.New(apiKey, nil)}
}

// ListByCustomer returns all of a customer's subscriptions, any status.
func (l *StripeLister) ListByCustomer(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	if l == nil || l.api == nil {
		return nil, errors.New("sweeper: stripe client not initialized")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, errors.New("sweeper: customer id is required")
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var subs []*stripe.Subscription
	iter := l.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if errIter := iter.Err(); errIter != nil {
		return nil, errIter
	}
	return subs, nil
}

var _ SubscriptionLister = (*StripeLister)(nil)
