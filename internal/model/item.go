package model

// TodoItem is the domain model for a todo entry.
// ID is assigned by the backend and never changes; OwnerEmail is set once
// at creation. Timestamps are kept as the backend sent them (RFC 3339).
type TodoItem struct {
	ID          int64  `json:"id"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	OwnerEmail  string `json:"userEmail"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// Provisional reports whether the item was created locally and has not
// been confirmed by the backend yet.
func (i TodoItem) Provisional() bool { return i.ID < 0 }

// TodoPatch is a partial update. Nil fields are left unchanged.
type TodoPatch struct {
	Text        *string `json:"text,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Apply returns a copy of it with the patch applied.
func (p TodoPatch) Apply(it TodoItem) TodoItem {
	if p.Text != nil {
		it.Text = *p.Text
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Completed != nil {
		it.Completed = *p.Completed
	}
	return it
}

// Restore copies back from prev only the fields the patch touched.
func (p TodoPatch) Restore(it, prev TodoItem) TodoItem {
	if p.Text != nil {
		it.Text = prev.Text
	}
	if p.Description != nil {
		it.Description = prev.Description
	}
	if p.Completed != nil {
		it.Completed = prev.Completed
	}
	return it
}

// Stats counts done and pending items.
func Stats(items []TodoItem) (done, pending int) {
	for _, it := range items {
		if it.Completed {
			done++
		} else {
			pending++
		}
	}
	return
}
