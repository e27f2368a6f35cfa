// Package demo is the object model served by "jsonipc serve": a project
// holding named tracks, enough to exercise remote objects, property fetches
// and change notifications from a client.
package demo

import (
	"fmt"
	"sync"

	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
)

const (
	ProjectClass = "Project"
	TrackClass   = "Track"
	projectID    = 1
)

// Notifier pushes a notification to connected peers.
type Notifier func(method string, params ...any) error

type track struct {
	id   int64
	name string
}

// Project is the served state.
type Project struct {
	mu     sync.Mutex
	name   string
	nextID int64
	tracks []*track
	notify Notifier
}

// NewProject returns a project with one track.
func NewProject(notify Notifier) *Project {
	p := &Project{name: "Untitled", nextID: projectID + 1, notify: notify}
	p.addTrack("Track 1")
	return p
}

func (p *Project) addTrack(name string) *track {
	t := &track{id: p.nextID, name: name}
	p.nextID++
	p.tracks = append(p.tracks, t)
	return t
}

func (p *Project) find(ref dispatcher.Ref) (*track, error) {
	for _, t := range p.tracks {
		if t.id == ref.ID {
			return t, nil
		}
	}
	return nil, &wire.ErrorPayload{Code: 404, Message: fmt.Sprintf("no object with $id %d", ref.ID)}
}

// Register installs the project's methods on d.
func (p *Project) Register(d *dispatcher.Dispatcher) {
	d.MustAddMethod("add", func(a, b float64) (float64, error) { return a + b, nil })
	d.MustAddMethod("echo", func(v any) (any, error) { return v, nil })
	d.MustAddMethod("project", func() (dispatcher.Ref, error) {
		return dispatcher.Ref{ID: projectID, Class: ProjectClass}, nil
	})
	d.MustAddMethod("Project/tracks", func(dispatcher.Ref) ([]dispatcher.Ref, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		refs := make([]dispatcher.Ref, 0, len(p.tracks))
		for _, t := range p.tracks {
			refs = append(refs, dispatcher.Ref{ID: t.id, Class: TrackClass})
		}
		return refs, nil
	})
	d.MustAddMethod("Project/create_track", func(_ dispatcher.Ref, name string) (dispatcher.Ref, error) {
		p.mu.Lock()
		t := p.addTrack(name)
		p.mu.Unlock()
		ref := dispatcher.Ref{ID: t.id, Class: TrackClass}
		p.emit("notify:tracks", dispatcher.Ref{ID: projectID, Class: ProjectClass})
		return ref, nil
	})
	d.MustAddMethod("get/name", func(ref dispatcher.Ref) (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ref.ID == projectID {
			return p.name, nil
		}
		t, err := p.find(ref)
		if err != nil {
			return "", err
		}
		return t.name, nil
	})
	d.MustAddMethod("set/name", func(ref dispatcher.Ref, name string) error {
		p.mu.Lock()
		class := TrackClass
		if ref.ID == projectID {
			p.name = name
			class = ProjectClass
		} else {
			t, err := p.find(ref)
			if err != nil {
				p.mu.Unlock()
				return err
			}
			t.name = name
		}
		p.mu.Unlock()
		p.emit("notify:name", dispatcher.Ref{ID: ref.ID, Class: class})
		return nil
	})
}

func (p *Project) emit(method string, params ...any) {
	if p.notify == nil {
		return
	}
	_ = p.notify(method, params...)
}
