package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"lanmsg/internal/files"
	"lanmsg/internal/storage"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// UserDirectory is the handlers' surface on the user record store.
type UserDirectory interface {
	CreateUser(ctx context.Context, username string) (int64, error)
	UserByID(ctx context.Context, id int64) (storage.User, error)
	Users(ctx context.Context) ([]storage.User, error)
}

// MessageHistory serves replay of the persisted message log.
type MessageHistory interface {
	MessagesBetween(ctx context.Context, userA, userB int64) ([]storage.Message, error)
}

// FileStore is the opaque blob store behind upload endpoints.
type FileStore interface {
	Save(name string, r io.Reader) (string, error)
	Open(name string) (io.ReadSeekCloser, error)
}

type parsers struct {
	messagesPool fastjson.ParserPool
}

type handler struct {
	logger  *zap.SugaredLogger
	users   UserDirectory
	history MessageHistory
	files   FileStore
	ws      *wsHandler
	parsers parsers
}

// createUser handles HTTP requests on "/users/add" endpoint
func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if !fastjson.Exists(body, "username") {
		http.Error(w, "Missing Field \"username\"", http.StatusBadRequest)
		return
	}

	username := fastjson.GetString(body, "username")
	if len(username) == 0 {
		http.Error(w, "Field \"username\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	id, err := h.users.CreateUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			http.Error(w, "User already exists", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	payload := []byte(`{"id":` + strconv.FormatInt(id, 10) + `}`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	h.write(w, payload)
}

// listUsers handles HTTP requests on "/users/get" endpoint and returns all
// registered users
func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Users(r.Context())
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(users)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	h.write(w, payload)
}

// messagesBetween handles HTTP requests on "/messages/get" endpoint and
// returns the full history between two users in either direction
func (h *handler) messagesBetween(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	ids := make([]int64, 0, 2)
	for _, field := range []string{"user_1", "user_2"} {
		if !v.Exists(field) {
			http.Error(w, "Missing Field \""+field+"\"", http.StatusBadRequest)
			return
		}

		id, err := v.Get(field).Int64()
		if err != nil {
			http.Error(w, "Field \""+field+"\" must be a 64-bit integer value", http.StatusBadRequest)
			return
		}

		if id < 1 {
			http.Error(w, "Field \""+field+"\" must be a valid user id greater than zero", http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}

	messages, err := h.history.MessagesBetween(r.Context(), ids[0], ids[1])
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			http.Error(w, "User does not exist", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	h.write(w, payload)
}

// uploadFile handles multipart HTTP requests on "/files/add" endpoint
func (h *handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		w.Header().Set("Allow", "POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing multipart field \"file\"", http.StatusBadRequest)
		return
	}
	defer file.Close()

	stored, err := h.files.Save(header.Filename, file)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(map[string]string{
		"filename":  header.Filename,
		"file_path": stored,
		"message":   "File uploaded successfully",
	})
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	h.write(w, payload)
}

// getFile handles HTTP requests on "/files/{name}" endpoints and serves a
// previously uploaded file
func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		w.Header().Set("Allow", "GET")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path[len("/files/"):]

	f, err := h.files.Open(name)
	if err != nil {
		if errors.Is(err, files.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, name, time.Time{}, f)
}

func (h *handler) write(w http.ResponseWriter, payload []byte) {
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}
