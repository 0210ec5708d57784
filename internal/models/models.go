package models

import "time"

// Appointment is a booked salon appointment as stored in the appointments
// collection. Date is "YYYY-MM-DD" and Time is "HH:MM" in the operating
// timezone.
type Appointment struct {
	ID          string `json:"id" bson:"_id"`
	Date        string `json:"date" bson:"date"`
	Time        string `json:"time" bson:"time"`
	ClientID    string `json:"clientId,omitempty" bson:"clientId,omitempty"` // empty for walk-ins
	ClientName  string `json:"clientName" bson:"clientName"`
	Treatment   string `json:"treatment" bson:"treatment"`
	Notified1h  bool   `json:"notified1h" bson:"notified1h"`
	Notified24h bool   `json:"notified24h" bson:"notified24h"`
	Notified48h bool   `json:"notified48h" bson:"notified48h"`
}

// ClientProfile holds the push-delivery tokens registered by a client.
type ClientProfile struct {
	ID        string   `json:"id" bson:"_id"`
	FCMTokens []string `json:"fcmTokens" bson:"fcmTokens"`
}

const (
	SenderSystem      = "system"
	DeliveryTargeted  = "targeted"
	DeliveryBroadcast = "broadcast"
	ReminderDataType  = "appointment_reminder"
)

// NotificationRecord is the append-only audit entry written for every
// dispatch attempt.
type NotificationRecord struct {
	Title        string    `json:"title" bson:"title"`
	Body         string    `json:"body" bson:"body"`
	SentAt       time.Time `json:"sentAt" bson:"sentAt"`
	SentBy       string    `json:"sentBy" bson:"sentBy"`
	Type         string    `json:"type" bson:"type"`
	TargetUserID string    `json:"targetUserId,omitempty" bson:"targetUserId,omitempty"`
}

// SendPushRequest is the body accepted by the send endpoint.
type SendPushRequest struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	TargetUserID string   `json:"targetUserId"`
	Tokens       []string `json:"tokens"`
	SentBy       string   `json:"sentBy"`
	Type         string   `json:"type"`
	URL          string   `json:"url"`
}

type SendPushResponse struct {
	Success      bool `json:"success"`
	SuccessCount int  `json:"successCount"`
	FailureCount int  `json:"failureCount"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}
