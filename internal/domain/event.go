package domain

import "time"

// StateChangeEvent is emitted exactly when a struggle counter update flips a
// topic's state. It is fanned out to course-scoped dashboard listeners and
// never persisted; listeners that are offline simply miss it.
type StateChangeEvent struct {
	EventID            string     `json:"eventId"`
	CourseID           string     `json:"courseId"`
	UserID             string     `json:"userId"`
	StudentDisplayName string     `json:"studentDisplayName"`
	Topic              string     `json:"topic"`
	State              TopicState `json:"state"`
	Timestamp          time.Time  `json:"timestamp"`
}
