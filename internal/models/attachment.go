package models

import (
	"time"

	"github.com/google/uuid"
)

// Proof stages. A FINAL attachment must exist before a task can be submitted
// for completion.
const (
	ProofStageDraft = "DRAFT"
	ProofStageFinal = "FINAL"
)

const (
	AttachmentKindImage    = "IMAGE"
	AttachmentKindDocument = "DOCUMENT"
	AttachmentKindAudio    = "AUDIO"
)

type Attachment struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}
