package controllers

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/quillhost/quillhost/internal/pkg/billing"
)

func TestWebhookStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: fiber.StatusOK},
		{name: "bad signature", err: billing.ErrSignatureInvalid, want: fiber.StatusBadRequest},
		{name: "wrapped bad signature", err: fmt.Errorf("%w: header mismatch", billing.ErrSignatureInvalid), want: fiber.StatusBadRequest},
		{name: "unknown customer acknowledged", err: billing.ErrAccountUnresolvable, want: fiber.StatusOK},
		{name: "stale event acknowledged", err: billing.ErrStaleEvent, want: fiber.StatusOK},
		{name: "store failure retried", err: fmt.Errorf("db gone"), want: fiber.StatusInternalServerError},
		{name: "gateway failure retried", err: billing.ErrGatewayUnavailable, want: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, webhookStatusForError(tt.err), tt.name)
	}
}

func TestPublicURL(t *testing.T) {
	t.Setenv("PUBLIC_DOMAIN", "https://quillhost.example/")
	assert.Equal(t, "https://quillhost.example/billing", publicURL("/billing"))

	t.Setenv("PUBLIC_DOMAIN", "https://quillhost.example")
	assert.Equal(t, "https://quillhost.example/billing/welcome", publicURL("/billing/welcome"))
}
