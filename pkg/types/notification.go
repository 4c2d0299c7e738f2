package types

import "time"

// Notification is a user-facing notification shown to page clients
type Notification struct {
	ID                 string               `json:"id"`
	Tag                string               `json:"tag,omitempty"`
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon,omitempty"`
	Badge              string               `json:"badge,omitempty"`
	Image              string               `json:"image,omitempty"`
	Vibrate            []int                `json:"vibrate,omitempty"`
	Data               NotificationData     `json:"data"`
	Actions            []NotificationAction `json:"actions,omitempty"`
	RequireInteraction bool                 `json:"require_interaction"`
	Persistent         bool                 `json:"persistent"`
}

// NotificationData carries the notification's opaque data
type NotificationData struct {
	DateOfArrival time.Time `json:"date_of_arrival"`
	PrimaryKey    string    `json:"primary_key"`
}

// NotificationAction is a button rendered on a notification
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// ClientEvent is pushed to registered page clients over their event stream
type ClientEvent struct {
	Type         string        `json:"type"` // "controllerchange", "notification", "notificationclose", "focus", "openwindow"
	Version      string        `json:"version,omitempty"`
	URL          string        `json:"url,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	At           time.Time     `json:"at"`
}
