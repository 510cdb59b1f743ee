package server

import (
	"database/sql"
	"errors"

	"github.com/teleclinic/teleclinic/internal/types"
)

// handleConsultRequest serves a patient's consultation request: the
// conversation row is created (or found) first, then the doctor is
// notified best-effort. The row, not the notification, is the state
// authority; a doctor who is offline discovers the request from their
// patient list instead.
func (s *SignalServer) handleConsultRequest(msg *ClientMessage) {
	req := msg.Request
	c := msg.client

	doctor, err := s.db.GetUserById(req.DoctorId, string(types.RoleDoctor))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(msg.Id))
		} else {
			s.log.Println("GetUserById:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	conv, err := s.db.GetOrCreateConversation(c.user.Id, doctor.Id)
	if err != nil {
		s.log.Println("GetOrCreateConversation:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"conversation_id": conv.Id,
		"doctor_id":       doctor.Id,
		"doctor_name":     doctor.Username,
	}))

	target := s.registry.LocalClient(doctor.Id)
	if target == nil {
		s.log.Printf("doctor %d not connected here, request %d waits in the patient list", doctor.Id, conv.Id)
		return
	}

	target.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			NewPatientRequest: &NewPatientRequest{
				PatientId:      c.user.Id,
				PatientName:    c.user.Username,
				ConversationId: conv.Id,
			},
		},
	})
}

// handleConsultAccept serves a doctor's acceptance. The conversation id
// from the payload is verified to belong to the authenticated doctor
// before the patient is notified, so a doctor cannot accept on another
// doctor's behalf.
func (s *SignalServer) handleConsultAccept(msg *ClientMessage) {
	acc := msg.Accept
	c := msg.client

	conv, err := s.db.GetConversationById(acc.ConversationId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotFound(msg.Id))
		} else {
			s.log.Println("GetConversationById:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if conv.DoctorId != c.user.Id {
		s.log.Printf("doctor %d attempted to accept conversation %d owned by doctor %d", c.user.Id, conv.Id, conv.DoctorId)
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"conversation_id": conv.Id,
		"patient_id":      conv.PatientId,
	}))

	target := s.registry.LocalClient(conv.PatientId)
	if target == nil {
		s.log.Printf("patient %d not connected here, acceptance of conversation %d not delivered", conv.PatientId, conv.Id)
		return
	}

	target.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			ConsultationAccepted: &ConsultationAccepted{
				DoctorId:       c.user.Id,
				DoctorName:     c.user.Username,
				ConversationId: conv.Id,
			},
		},
	})
}
