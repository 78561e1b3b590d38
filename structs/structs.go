package structs

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"slices"
	"time"

	driver "github.com/duskmud/driver"
)

var (
	lastObjectCounter uint64 = 0
	encoding                 = base64.StdEncoding.WithPadding(base64.NoPadding)
)

const (
	objectIDLen = 16
)

type Timestamp uint64

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

func At(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// NextObjectID returns an ID that is unique for the process lifetime:
// a strictly increasing nanosecond counter followed by random bytes,
// base64-encoded.
func NextObjectID() (string, error) {
	objectCounter := driver.Increment(&lastObjectCounter)
	timeSize := binary.Size(objectCounter)
	result := make([]byte, objectIDLen)
	binary.BigEndian.PutUint64(result, objectCounter)
	if _, err := rand.Read(result[timeSize:]); err != nil {
		return "", driver.WithStack(err)
	}
	return encoding.EncodeToString(result), nil
}

// Object is the unit the registry tracks. Blueprints and clones share the
// struct; a clone carries its blueprint path in Blueprint and Clone == true.
//
// Location and Content are weak references by ID. They are only ever
// mutated together, by the registry's single move operation.
type Object struct {
	Id        string
	Path      string
	Clone     bool
	Blueprint string
	Version   uint64
	Location  string
	Content   []string
	Props     map[string]Value
	Actions   map[string]string
	Heartbeat bool

	// State is the script's own serialized state, carried between runs.
	// Callbacks lists the event names the script registered last run.
	State     string
	Callbacks []string
}

func MakeObject() (*Object, error) {
	object := &Object{
		Props:   map[string]Value{},
		Actions: map[string]string{},
	}
	newID, err := NextObjectID()
	if err != nil {
		return nil, driver.WithStack(err)
	}
	object.Id = newID
	return object, nil
}

func (o *Object) HasCallback(name string) bool {
	return slices.Contains(o.Callbacks, name)
}

// Contains reports whether id is directly inside o.
func (o *Object) Contains(id string) bool {
	return slices.Contains(o.Content, id)
}

// AddContent appends id to o's inventory if not already present.
// Only the registry's move operation should call this.
func (o *Object) AddContent(id string) {
	if !o.Contains(id) {
		o.Content = append(o.Content, id)
	}
}

// RemoveContent drops id from o's inventory, preserving order.
// Only the registry's move operation should call this.
func (o *Object) RemoveContent(id string) {
	o.Content = slices.DeleteFunc(o.Content, func(s string) bool { return s == id })
}

// Call names a script callback invocation with a JSON message.
type Call struct {
	Name    string
	Message string
}
