// Package envelope implements the client side of the relay wire envelopes:
// EVENT and REQ/CLOSE going out, EVENT/EOSE/NOTICE/OK coming back.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
)

// E is implemented by all envelope types.
type E interface {
	Label() string
	MarshalJSON() ([]byte, error)
	UnmarshalJSON([]byte) error
}

// ParseMessage sniffs the label of an incoming message and decodes it
// into the matching envelope, or returns nil for anything unparseable or
// not addressed to a client.
func ParseMessage(message []byte) E {
	firstComma := bytes.Index(message, []byte{','})
	if firstComma == -1 {
		return nil
	}
	label := message[0:firstComma]

	var v E
	switch {
	case bytes.Contains(label, []byte("EVENT")):
		v = &Event{}
	case bytes.Contains(label, []byte("NOTICE")):
		x := Notice("")
		v = &x
	case bytes.Contains(label, []byte("EOSE")):
		x := Eose("")
		v = &x
	case bytes.Contains(label, []byte("OK")):
		v = &OK{}
	default:
		return nil
	}

	if e := v.UnmarshalJSON(message); e != nil {
		return nil
	}
	return v
}

// Event is ["EVENT", <event>] going out and
// ["EVENT", <subscription id>, <event>] coming in.
type Event struct {
	SubscriptionID string
	T              event.T
}

func (Event) Label() string { return "EVENT" }

func (v Event) MarshalJSON() ([]byte, error) {
	evb, err := json.Marshal(v.T)
	if err != nil {
		return nil, err
	}
	buf := []byte(`["EVENT",`)
	if v.SubscriptionID != "" {
		idb, _ := json.Marshal(v.SubscriptionID)
		buf = append(buf, idb...)
		buf = append(buf, ',')
	}
	buf = append(buf, evb...)
	buf = append(buf, ']')
	return buf, nil
}

func (v *Event) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		return json.Unmarshal([]byte(arr[1].Raw), &v.T)
	case 3:
		v.SubscriptionID = arr[1].Str
		return json.Unmarshal([]byte(arr[2].Raw), &v.T)
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

// Req is ["REQ", <subscription id>, <filters...>].
type Req struct {
	SubscriptionID string
	Filters        filters.T
}

func (Req) Label() string { return "REQ" }

func (v Req) MarshalJSON() ([]byte, error) {
	idb, _ := json.Marshal(v.SubscriptionID)
	buf := append([]byte(`["REQ",`), idb...)
	for _, f := range v.Filters {
		fb, err := f.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, ',')
		buf = append(buf, fb...)
	}
	buf = append(buf, ']')
	return buf, nil
}

func (v *Req) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope")
	}
	v.SubscriptionID = arr[1].Str
	// REQ filters are produced by this client, never parsed back; a relay
	// has no business sending us one
	v.Filters = nil
	return nil
}

// Close is ["CLOSE", <subscription id>].
type Close string

func (Close) Label() string { return "CLOSE" }

func (v Close) MarshalJSON() ([]byte, error) {
	idb, _ := json.Marshal(string(v))
	buf := append([]byte(`["CLOSE",`), idb...)
	return append(buf, ']'), nil
}

func (v *Close) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = Close(arr[1].Str)
	return nil
}

// Eose is ["EOSE", <subscription id>].
type Eose string

func (Eose) Label() string { return "EOSE" }

func (v Eose) MarshalJSON() ([]byte, error) {
	idb, _ := json.Marshal(string(v))
	buf := append([]byte(`["EOSE",`), idb...)
	return append(buf, ']'), nil
}

func (v *Eose) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = Eose(arr[1].Str)
	return nil
}

// Notice is ["NOTICE", <message>].
type Notice string

func (Notice) Label() string { return "NOTICE" }

func (v Notice) MarshalJSON() ([]byte, error) {
	mb, _ := json.Marshal(string(v))
	buf := append([]byte(`["NOTICE",`), mb...)
	return append(buf, ']'), nil
}

func (v *Notice) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = Notice(arr[1].Str)
	return nil
}

// OK is ["OK", <event id>, <accepted>, <reason>].
type OK struct {
	EventID string
	OK      bool
	Reason  string
}

func (OK) Label() string { return "OK" }

func (v OK) MarshalJSON() ([]byte, error) {
	idb, _ := json.Marshal(v.EventID)
	rb, _ := json.Marshal(v.Reason)
	buf := append([]byte(`["OK",`), idb...)
	if v.OK {
		buf = append(buf, []byte(`,true,`)...)
	} else {
		buf = append(buf, []byte(`,false,`)...)
	}
	buf = append(buf, rb...)
	return append(buf, ']'), nil
}

func (v *OK) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Raw == "true"
	if len(arr) > 3 {
		v.Reason = arr[3].Str
	}
	return nil
}
