package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActorSnapshot persists the last observed state of a simulated actor so a
// district resumes close to where it left off after a restart.
type ActorSnapshot struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DistrictID int            `gorm:"uniqueIndex:idx_snapshot_actor;not null" json:"district_id"`
	ActorID    int            `gorm:"uniqueIndex:idx_snapshot_actor;not null" json:"actor_id"`
	Name       string         `gorm:"size:64" json:"name"`
	Class      string         `gorm:"size:16;not null" json:"class"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Heading    float64        `json:"heading"`
	StepKind   string         `gorm:"size:32" json:"step_kind"`
	Extra      datatypes.JSON `json:"extra"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

func (ActorSnapshot) TableName() string { return "actor_snapshots" }
