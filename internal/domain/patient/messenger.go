package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/fisioclinic/clinic/internal/platform/apperr"
	"github.com/fisioclinic/clinic/internal/platform/notification"
)

// TemplateSender is the part of the notification manager the messenger uses.
type TemplateSender interface {
	SendTemplate(ctx context.Context, channel notification.Channel, templateID, recipient string, data map[string]string) (*notification.Notification, error)
}

// Messenger sends templated notifications to a patient on the best channel
// on file: WhatsApp when there is a phone, otherwise email.
type Messenger struct {
	patients *Service
	sender   TemplateSender
}

func NewMessenger(patients *Service, sender TemplateSender) *Messenger {
	return &Messenger{patients: patients, sender: sender}
}

// Notify fills patient_name unless data already has it.
func (m *Messenger) Notify(ctx context.Context, patientID uuid.UUID, templateID string, data map[string]string) error {
	p, err := m.patients.Get(ctx, patientID)
	if err != nil {
		return err
	}
	channel, recipient := contactOf(p)
	if recipient == "" {
		return apperr.Invalid("patient %s has no phone or email", patientID)
	}
	merged := make(map[string]string, len(data)+1)
	for k, v := range data {
		merged[k] = v
	}
	if _, ok := merged["patient_name"]; !ok {
		merged["patient_name"] = firstName(p.FullName)
	}
	_, err = m.sender.SendTemplate(ctx, channel, templateID, recipient, merged)
	return err
}

func contactOf(p *Patient) (notification.Channel, string) {
	if p.Phone != nil && *p.Phone != "" {
		return notification.ChannelWhatsApp, *p.Phone
	}
	if p.Email != nil && *p.Email != "" {
		return notification.ChannelEmail, *p.Email
	}
	return "", ""
}

func firstName(full string) string {
	name, _, _ := strings.Cut(full, " ")
	return name
}
