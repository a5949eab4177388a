package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/notification"
)

type sentMessage struct {
	channel   notification.Channel
	template  string
	recipient string
	data      map[string]string
}

type recordingSender struct{ sent []sentMessage }

func (r *recordingSender) SendTemplate(_ context.Context, ch notification.Channel, tpl, to string, data map[string]string) (*notification.Notification, error) {
	r.sent = append(r.sent, sentMessage{ch, tpl, to, data})
	return &notification.Notification{Channel: ch, Recipient: to}, nil
}

func TestMessenger_Notify(t *testing.T) {
	svc, _ := newTestService()
	sender := &recordingSender{}
	m := NewMessenger(svc, sender)
	ctx := context.Background()

	p := createPatient(t, svc)
	if err := m.Notify(ctx, p.ID, notification.TemplateNPSSurvey, map[string]string{"link": "x"}); err != nil {
		t.Fatal(err)
	}
	got := sender.sent[0]
	if got.channel != notification.ChannelWhatsApp || got.recipient != *p.Phone {
		t.Errorf("expected whatsapp to %s, got %+v", *p.Phone, got)
	}
	if got.data["patient_name"] != "Conceição" || got.data["link"] != "x" {
		t.Errorf("unexpected data %v", got.data)
	}

	emailOnly := &Patient{FullName: "Rui Barbosa", Email: ptr("rui@example.com")}
	if err := svc.Create(ctx, emailOnly); err != nil {
		t.Fatal(err)
	}
	_ = m.Notify(ctx, emailOnly.ID, notification.TemplatePaymentOverdue, map[string]string{"patient_name": "Sr. Rui"})
	got = sender.sent[1]
	if got.channel != notification.ChannelEmail || got.data["patient_name"] != "Sr. Rui" {
		t.Errorf("unexpected message %+v", got)
	}

	noContact := &Patient{FullName: "Sem Contato"}
	_ = svc.Create(ctx, noContact)
	if err := m.Notify(ctx, noContact.ID, notification.TemplateNPSSurvey, nil); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}
	if err := m.Notify(ctx, uuid.New(), notification.TemplateNPSSurvey, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
