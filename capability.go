package rested

import "time"

// Capability markers a data entity may implement. They are orthogonal: an
// entity implements any subset. Implement them on the pointer receiver.

// TimeMarked entities record their creation time.
type TimeMarked interface {
	SetCreatedAt(t time.Time)
}

// TimeTracked entities record their last update time.
type TimeTracked interface {
	SetUpdatedAt(t time.Time)
}

// TimeEnded entities are soft-deleted by recording a deletion time.
type TimeEnded interface {
	DeletedAt() time.Time
	SetDeletedAt(t time.Time)
}

// Owned entities record the id of the user who created them.
type Owned interface {
	CreatedByID() string
	SetCreatedByID(id string)
}

// Tracked entities record the id of the user who last updated them.
type Tracked interface {
	SetUpdatedByID(id string)
}

// History entities record the id of the user who deleted them.
type History interface {
	SetDeletedByID(id string)
}

// Referenced entities carry the key of a parent entity.
type Referenced interface {
	ReferenceID() any
	SetReferenceID(id any)
}

// Capabilities records which markers a data entity type implements.
type Capabilities struct {
	TimeMarked  bool
	TimeTracked bool
	TimeEnded   bool
	Owned       bool
	Tracked     bool
	History     bool
	Referenced  bool
}

// CapabilitiesOf inspects *D once.
func CapabilitiesOf[D any]() Capabilities {
	var d any = new(D)
	_, timeMarked := d.(TimeMarked)
	_, timeTracked := d.(TimeTracked)
	_, timeEnded := d.(TimeEnded)
	_, owned := d.(Owned)
	_, tracked := d.(Tracked)
	_, history := d.(History)
	_, referenced := d.(Referenced)
	return Capabilities{
		TimeMarked:  timeMarked,
		TimeTracked: timeTracked,
		TimeEnded:   timeEnded,
		Owned:       owned,
		Tracked:     tracked,
		History:     history,
		Referenced:  referenced,
	}
}

// SoftDelete reports whether deletes are recorded instead of removing rows.
// Either a deletion time or a deleter id makes the delete soft.
func (c Capabilities) SoftDelete() bool {
	return c.TimeEnded || c.History
}
