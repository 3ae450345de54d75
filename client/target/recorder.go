package target

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Call is one request seen by the target.
type Call struct {
	Method        string
	Path          string
	Status        int
	Authorization string

	// HasAuthorization is false when the header was absent, as opposed to
	// present with an empty value.
	HasAuthorization bool
}

// Recorder keeps every call, in the order the handlers completed, so tests
// can assert on wire behaviour.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		auth, present := ctx.Request.Header["Authorization"]

		ctx.Next()

		call := Call{
			Method:           ctx.Request.Method,
			Path:             ctx.Request.URL.Path,
			Status:           ctx.Writer.Status(),
			HasAuthorization: present,
		}

		if present && len(auth) > 0 {
			call.Authorization = auth[0]
		}

		r.mu.Lock()
		r.calls = append(r.calls, call)
		r.mu.Unlock()
	}
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Call(nil), r.calls...)
}

// Count returns the number of calls for method and path.
func (r *Recorder) Count(method, path string) int {
	n := 0

	for _, c := range r.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}

	return n
}

// Filter returns the calls for path in the order they completed.
func (r *Recorder) Filter(path string) []Call {
	var out []Call

	for _, c := range r.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}

	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
