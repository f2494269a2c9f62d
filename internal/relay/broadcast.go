package relay

// Delivery counts the outcome of one fan-out.
type Delivery struct {
	Delivered int
	Failed    int
}

// Recipients returns the number of members a fan-out was addressed to.
func (d Delivery) Recipients() int { return d.Delivered + d.Failed }

// fanOutLocked enqueues a payload on every member except exclude. pick
// chooses the payload per member and returns nil to skip one.
//
// Conn.Send only enqueues; each connection's writer goroutine drains its
// own queue. A member whose queue is full or already closed counts as
// Failed and is logged, and the transport disconnects it. Callers hold r.mu
// (read or write) for the whole pass.
func (r *Room) fanOutLocked(exclude ConnID, pick func(*member) []byte) Delivery {
	var d Delivery
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		payload := pick(m)
		if payload == nil {
			continue
		}
		if err := m.Conn.Send(payload); err != nil {
			d.Failed++
			r.log.Warn("delivery failed", "conn_id", id, "username", m.Presence.Username, "err", err)
			continue
		}
		d.Delivered++
	}
	return d
}

func toEveryone(payload []byte) func(*member) []byte {
	return func(*member) []byte { return payload }
}

func presenceOnly(payload []byte) func(*member) []byte {
	return func(m *member) []byte {
		if m.Mode != ModePresence {
			return nil
		}
		return payload
	}
}
