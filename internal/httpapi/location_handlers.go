package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"eostre.org/internal/auth"
	"eostre.org/internal/location"
)

// LocationDeps holds the dependencies of the location API.
type LocationDeps struct {
	Locations  *location.Service
	Codec      TokenDecoder
	CookieName string
	Ready      ReadyProbe
	Version    string
	CORS       []string
}

// LocationAPI serves account scoped location CRUD and the change stream. It
// only verifies tokens; minting happens in the admin server.
type LocationAPI struct {
	locations  *location.Service
	codec      TokenDecoder
	cookieName string
	cors       []string
	probes     probes
}

func NewLocation(deps LocationDeps) (*LocationAPI, error) {
	if deps.Locations == nil {
		return nil, errors.New("location service is required")
	}
	if deps.Codec == nil {
		return nil, errors.New("token codec is required")
	}
	if deps.CookieName == "" {
		deps.CookieName = "access_token"
	}
	return &LocationAPI{
		locations:  deps.Locations,
		codec:      deps.Codec,
		cookieName: deps.CookieName,
		cors:       deps.CORS,
		probes:     probes{ready: deps.Ready, service: "eostre-locationserv", version: deps.Version},
	}, nil
}

// Handler builds the location router.
func (a *LocationAPI) Handler() http.Handler {
	r := newRouter(a.cors)
	a.probes.mount(r)

	read := RequirePermissions(auth.PermAccountRead)
	write := RequirePermissions(auth.PermAccountWrite)

	r.Route("/location", func(r chi.Router) {
		r.Use(Authenticate(a.codec, a.cookieName))
		r.With(read).Get("/", a.handleList)
		r.With(write).Post("/", a.handleCreate)
		r.With(write).Put("/", a.handleUpdate)
		r.With(write).Delete("/", a.handleDelete)
		r.With(read).Get("/stream", a.handleStream)
	})
	return r
}

func actorFrom(r *http.Request) location.Actor {
	claims := claimsFrom(r)
	return location.Actor{UserID: claims.Subject, AccountID: claims.AccountID}
}

// queryIDs accepts repeated and comma separated id parameters.
func queryIDs(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["id"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func (a *LocationAPI) handleList(w http.ResponseWriter, r *http.Request) {
	locs, err := a.locations.List(r.Context(), claimsFrom(r).AccountID, queryIDs(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (a *LocationAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in location.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	loc, err := a.locations.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (a *LocationAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in location.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	loc, err := a.locations.Update(r.Context(), actorFrom(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (a *LocationAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	loc, err := a.locations.Delete(r.Context(), actorFrom(r), r.URL.Query().Get("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}
