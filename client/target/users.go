package target

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// UserRecord is one row of the user table served by /users.
type UserRecord struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type userTable struct {
	mu   sync.RWMutex
	rows []UserRecord
}

func newUserTable(adminEmail string) *userTable {
	return &userTable{rows: []UserRecord{
		{ID: "1", Email: adminEmail, FirstName: "Admin", LastName: "User"},
		{ID: "2", Email: "guest@example.com", FirstName: "Guest", LastName: "User"},
		{ID: "3", Email: "sysop@example.com", FirstName: "Sys", LastName: "Op"},
	}}
}

func (t *userTable) byEmail(email string) (UserRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, u := range t.rows {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}

	return UserRecord{}, false
}

func (t *userTable) all() []UserRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]UserRecord(nil), t.rows...)
}

func (s *Server) healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listUsers reads the user table and writes one activity record per read.
func (s *Server) listUsers(ctx *gin.Context) {
	claims := ctx.MustGet(ctxClaimsKey).(*Claims)
	rows := s.users.all()

	s.logger.Info("Activity",
		slog.String("actor", claims.Email),
		slog.String("type", "read"),
		slog.String("resource", "users"),
		slog.Int("count", len(rows)),
		slog.String("guid", ctx.GetString(ctxGUIDKey)))

	ctx.JSON(http.StatusOK, gin.H{"data": rows})
}
