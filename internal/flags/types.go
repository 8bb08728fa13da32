package flags

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("flag not found")
	ErrInvalidKey = errors.New("invalid flag key")
)

// Toggles read by the query pipeline.
const (
	Streaming        = "nlq.streaming"
	GeneralKnowledge = "nlq.general_knowledge"
	Charts           = "nlq.charts"
)

// Known lists the toggles the service reads, with the value used when a
// toggle has never been set.
var Known = map[string]bool{
	Streaming:        true,
	GeneralKnowledge: true,
	Charts:           true,
}

type Flag struct {
	Key       string    `json:"key"`
	Value     bool      `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
