package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/server"
	"github.com/teleclinic/teleclinic/internal/types"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type LoginRequest struct {
	Role     string `json:"role" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CreateDoctorRequest struct {
	Username   string `json:"username" validate:"required,min=3,max=64"`
	Password   string `json:"password" validate:"required,min=8,max=128"`
	Profession string `json:"profession" validate:"required,max=128"`
}

func formatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			field := e.Field()
			switch e.Tag() {
			case "required":
				fields[field] = field + " is required"
			case "min":
				fields[field] = field + " must be at least " + e.Param() + " characters"
			case "max":
				fields[field] = field + " must be at most " + e.Param() + " characters"
			default:
				fields[field] = field + " is invalid"
			}
		}
	}

	return fields
}

func (s *TeleclinicApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *TeleclinicApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

// createAccount is patient self-registration. Doctors are provisioned by
// an admin through the admin endpoints.
func (s *TeleclinicApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		errResp := NewValidationError(formatValidationErrors(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateUser(database.CreateUserParams{
		Username:     req.Username,
		PasswordHash: pwdHash,
		Role:         string(types.RolePatient),
	})
	if err != nil {
		var errResp *ApiError
		if isUniqueViolation(err) {
			errResp = NewConflictError("username already taken")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:        newUser.Id,
		Username:  newUser.Username,
		Role:      types.Role(newUser.Role),
		CreatedAt: newUser.CreatedAt,
	})
}

func (s *TeleclinicApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.validate.Struct(lr); err != nil {
		errResp := NewValidationError(formatValidationErrors(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	role := normalizeRole(lr.Role)
	if !role.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetUserByUsername(lr.Username, string(role))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	identity := types.Identity{UserId: dbUser.Id, Role: types.Role(dbUser.Role)}
	token, err := s.createJwtForSession(identity, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.User{
		Id:         dbUser.Id,
		Username:   dbUser.Username,
		Role:       types.Role(dbUser.Role),
		Profession: dbUser.Profession,
		CreatedAt:  dbUser.CreatedAt,
	})
}

func (s *TeleclinicApp) session(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(identity.UserId, string(identity.Role))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:         user.Id,
		Username:   user.Username,
		Role:       types.Role(user.Role),
		Profession: user.Profession,
		CreatedAt:  user.CreatedAt,
	})
}

func (s *TeleclinicApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an already-expired empty value
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *TeleclinicApp) createDoctor(w http.ResponseWriter, r *http.Request) {
	var req CreateDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.validate.Struct(req); err != nil {
		errResp := NewValidationError(formatValidationErrors(err))
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newDoctor, err := s.db.CreateUser(database.CreateUserParams{
		Username:     req.Username,
		PasswordHash: pwdHash,
		Role:         string(types.RoleDoctor),
		Profession:   strings.TrimSpace(req.Profession),
	})
	if err != nil {
		var errResp *ApiError
		if isUniqueViolation(err) {
			errResp = NewConflictError("username already taken")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:         newDoctor.Id,
		Username:   newDoctor.Username,
		Role:       types.Role(newDoctor.Role),
		Profession: newDoctor.Profession,
		CreatedAt:  newDoctor.CreatedAt,
	})
}

func (s *TeleclinicApp) listDoctors(w http.ResponseWriter, _ *http.Request) {
	dbDoctors, err := s.db.ListDoctors()
	if err != nil {
		s.log.Println("list doctors:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doctors := make([]types.User, 0, len(dbDoctors))
	for _, d := range dbDoctors {
		doctors = append(doctors, types.User{
			Id:         d.Id,
			Username:   d.Username,
			Role:       types.RoleDoctor,
			Profession: d.Profession,
		})
	}

	s.writeJson(w, http.StatusOK, doctors)
}

func (s *TeleclinicApp) deleteDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteDoctor(id); err != nil {
		s.log.Println("delete doctor:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

// onlineDoctors is the patient-facing directory: doctors with a live
// presence record, optionally filtered by profession. Offline doctors
// are invisible regardless of conversation history.
func (s *TeleclinicApp) onlineDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.registry.OnlineDoctors(r.URL.Query().Get("profession"))
	if err != nil {
		s.log.Println("online doctors:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, doctors)
}

// doctorPatients lists the authenticated doctor's patients from durable
// conversation rows, flagged with current presence. The list is how a
// doctor discovers requests whose live notification was missed.
func (s *TeleclinicApp) doctorPatients(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	dbPatients, err := s.db.ListPatientsForDoctor(identity.UserId)
	if err != nil {
		s.log.Println("list patients:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	patients := make([]types.PatientSummary, 0, len(dbPatients))
	for _, p := range dbPatients {
		patients = append(patients, types.PatientSummary{
			Id:       p.Id,
			Username: p.Username,
			IsOnline: s.registry.IsOnline(p.Id, types.RolePatient),
		})
	}

	s.writeJson(w, http.StatusOK, patients)
}

// getMessages replays a conversation's history in ascending timestamp
// order. Only the conversation's participants may read it.
func (s *TeleclinicApp) getMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convId, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.db.GetConversationById(convId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if identity.UserId != conv.PatientId && identity.UserId != conv.DoctorId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMessages, err := s.db.ListMessages(conv.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.Message{
			SenderId:       msg.SenderId,
			ConversationId: msg.ConversationId,
			Content:        msg.Content,
			Timestamp:      msg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *TeleclinicApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(identity.UserId, string(identity.Role))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:         user.Id,
		Username:   user.Username,
		Role:       types.Role(user.Role),
		Profession: user.Profession,
	}, conn, s.ss, s.log)

	s.ss.RegisterClient(client)
	go client.Write()
	go client.Read()
}
