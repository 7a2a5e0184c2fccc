// Package demo drives a simulated page so the relay, the viewer and the CLI
// can be exercised end-to-end without a real application. Each step makes
// the page do one realistic thing: log progress, warn about resources, fail
// a request, panic, or leave a task error unhandled.
package demo

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/large-farva/pikka-console/internal/page"
)

// ValidationError is the error class the demo checkout step panics with.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return "invalid " + e.Field }

type step struct {
	name string
	run  func(r *Runner)
}

var steps = []step{
	{"log", (*Runner).logProgress},
	{"info", (*Runner).logSession},
	{"warn", (*Runner).warnDisk},
	{"console-error", (*Runner).consoleError},
	{"resource", (*Runner).missingAsset},
	{"circular", (*Runner).logCircular},
	{"panic", (*Runner).panicCheckout},
	{"rejection", (*Runner).unhandledTask},
	{"runtime-error", (*Runner).indexOutOfRange},
}

// Steps lists the scenario names in the order the runner plays them.
func Steps() []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.name
	}
	return out
}

// Runner plays the scenarios on a page, one per interval.
type Runner struct {
	Page     *page.Page
	Interval time.Duration

	client *http.Client
	index  int
	orders int
}

// New creates a demo runner with a sensible default interval.
func New(p *page.Page) *Runner {
	return &Runner{
		Page:     p,
		Interval: time.Second,
		client:   &http.Client{Transport: p.RoundTripper(assetServer{})},
	}
}

// Run plays one step immediately, then one per Interval until ctx is
// cancelled. onStep, if set, is told the name of every step played.
func (r *Runner) Run(ctx context.Context, onStep func(string)) {
	r.Page.Console().Info("demo page started", map[string]any{"steps": len(steps)})

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		name := r.Step()
		if onStep != nil {
			onStep(name)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Step plays the next scenario and returns its name.
func (r *Runner) Step() string {
	s := steps[r.index%len(steps)]
	r.index++
	s.run(r)
	return s.name
}

func (r *Runner) logProgress() {
	r.orders++
	r.Page.Console().Log("order processed", map[string]any{
		"id":       fmt.Sprintf("ord-%04d", r.orders),
		"items":    1 + rand.IntN(5),
		"total":    float64(rand.IntN(20000)) / 100,
		"duration": time.Duration(50+rand.IntN(400)) * time.Millisecond,
	})
}

func (r *Runner) logSession() {
	type user struct {
		ID    int      `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	r.Page.Console().Info("user signed in", user{ID: 42, Email: "ada@example.com", Roles: []string{"admin"}})
}

func (r *Runner) warnDisk() {
	r.Page.Console().Warn("disk low", map[string]int{"pct": 80 + rand.IntN(20)})
}

func (r *Runner) consoleError() {
	err := errors.Wrap(errors.New("context deadline exceeded"), "fetch /api/orders")
	r.Page.Console().Error(err, "retrying in 5s")
}

func (r *Runner) missingAsset() {
	resp, err := r.client.Get("http://localhost/static/logo@2x.png")
	if err == nil {
		_ = resp.Body.Close()
	}
}

func (r *Runner) logCircular() {
	type node struct {
		Name string `json:"name"`
		Next *node  `json:"next"`
	}
	a := &node{Name: "a"}
	a.Next = &node{Name: "b", Next: a}
	r.Page.Console().Log("cache ring", a)
}

func (r *Runner) panicCheckout() {
	r.Page.Run(func() error {
		panic(&ValidationError{Field: "card.number"})
	})
}

func (r *Runner) unhandledTask() {
	r.Page.Go(func() error {
		return errors.New("payment service unavailable")
	})
	r.Page.Wait()
}

func (r *Runner) indexOutOfRange() {
	r.Page.Run(func() error {
		var queue []string
		i := len(queue) + 2
		return errors.New(queue[i])
	})
}

// assetServer answers every request without touching the network: a 404 for
// anything under /static/, an empty 200 otherwise.
type assetServer struct{}

func (assetServer) RoundTrip(req *http.Request) (*http.Response, error) {
	status := http.StatusOK
	if strings.HasPrefix(req.URL.Path, "/static/") {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}
