package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eostre.org/internal/auth"
	"eostre.org/internal/location"
)

const (
	acctA = "acct-a"
	acctB = "acct-b"
)

func sampleLocation(name string) map[string]any {
	return map[string]any{
		"name":      name,
		"geo_point": map[string]any{"type": "Point", "coordinates": []float64{-0.1276, 51.5072}},
		"address": map[string]any{
			"addressLine":   "10 Downing St",
			"locality":      "London",
			"countryRegion": map[string]any{"name": "United Kingdom"},
		},
	}
}

func TestLocationCRUD(t *testing.T) {
	env := newLocationEnv(t)
	writer := bearerHeader(env.token("u1", acctA, auth.PermAccountRead, auth.PermAccountWrite))

	resp := env.post("/location", sampleLocation("HQ"), writer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	hq := decode[location.Location](t, resp)
	require.NotEmpty(t, hq.ID)
	require.Equal(t, acctA, hq.AccountID)
	require.Equal(t, "u1", hq.CreatedBy)
	require.Equal(t, "London", hq.Address.Locality)
	require.True(t, hq.Active)

	resp = env.post("/location", sampleLocation("Depot"), writer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	depot := decode[location.Location](t, resp)

	all := decode[[]location.Location](t, env.get("/location", nil, writer))
	require.Len(t, all, 2)

	one := decode[[]location.Location](t, env.get("/location", url.Values{"id": {hq.ID}}, writer))
	require.Len(t, one, 1)
	require.Equal(t, hq.ID, one[0].ID)

	both := decode[[]location.Location](t, env.get("/location", url.Values{"id": {hq.ID + "," + depot.ID}}, writer))
	require.Len(t, both, 2)

	update := sampleLocation("Head Office")
	update["id"] = hq.ID
	resp = env.do(http.MethodPut, "/location", update, writer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[location.Location](t, resp)
	require.Equal(t, "Head Office", updated.Name)
	require.Equal(t, hq.CreatedDate, updated.CreatedDate)

	resp = env.do(http.MethodDelete, "/location?id="+depot.ID, nil, writer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decode[location.Location](t, resp)
	require.True(t, deleted.Deleted)
	require.NotNil(t, deleted.DeletedDate)

	all = decode[[]location.Location](t, env.get("/location", nil, writer))
	require.Len(t, all, 1)
	// Deleted locations stay readable by id.
	byID := decode[[]location.Location](t, env.get("/location", url.Values{"id": {depot.ID}}, writer))
	require.True(t, byID[0].Deleted)
}

func TestLocationAccountIsolation(t *testing.T) {
	env := newLocationEnv(t)
	a := bearerHeader(env.token("u1", acctA, auth.PermAccountRead, auth.PermAccountWrite))
	b := bearerHeader(env.token("u2", acctB, auth.PermAccountRead, auth.PermAccountWrite))

	resp := env.post("/location", sampleLocation("HQ"), a)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	hq := decode[location.Location](t, resp)

	require.Empty(t, decode[[]location.Location](t, env.get("/location", nil, b)))
	expectStatus(t, env.get("/location", url.Values{"id": {hq.ID}}, b), http.StatusNotFound)

	update := sampleLocation("Mine now")
	update["id"] = hq.ID
	expectStatus(t, env.do(http.MethodPut, "/location", update, b), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodDelete, "/location?id="+hq.ID, nil, b), http.StatusNotFound)

	foreign := sampleLocation("Elsewhere")
	foreign["account_id"] = acctA
	expectStatus(t, env.post("/location", foreign, b), http.StatusForbidden)
}

func TestLocationPermissions(t *testing.T) {
	env := newLocationEnv(t)
	reader := bearerHeader(env.token("u1", acctA, auth.PermAccountRead))
	writerOnly := bearerHeader(env.token("u2", acctA, auth.PermAccountWrite))
	// Permissions held on another account do not count for the active one.
	claims := auth.NewClaims(auth.User{ID: "u3", Name: "u3", Type: auth.UserTypeUser}, acctA,
		auth.PermissionMap{acctB: {auth.PermAccountRead, auth.PermAccountWrite}})
	raw, _, err := env.signer.Mint(claims, auth.TokenAccess, accessTTL)
	require.NoError(t, err)

	expectStatus(t, env.get("/location", nil, reader), http.StatusOK)
	expectStatus(t, env.post("/location", sampleLocation("HQ"), reader), http.StatusForbidden)
	expectStatus(t, env.get("/location", nil, writerOnly), http.StatusForbidden)
	expectStatus(t, env.post("/location", sampleLocation("HQ"), writerOnly), http.StatusCreated)
	expectStatus(t, env.get("/location", nil, bearerHeader(raw)), http.StatusForbidden)
}

func TestLocationValidation(t *testing.T) {
	env := newLocationEnv(t)
	writer := bearerHeader(env.token("u1", acctA, auth.PermAccountRead, auth.PermAccountWrite))

	noName := sampleLocation("")
	expectStatus(t, env.post("/location", noName, writer), http.StatusBadRequest)

	badPoint := sampleLocation("HQ")
	badPoint["geo_point"] = map[string]any{"type": "Point", "coordinates": []float64{200, 10}}
	body := expectStatus(t, env.post("/location", badPoint, writer), http.StatusBadRequest)
	require.Contains(t, body["error"], "longitude")

	expectStatus(t, env.do(http.MethodPut, "/location", sampleLocation("No id"), writer), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodDelete, "/location", nil, writer), http.StatusBadRequest)
	expectStatus(t, env.get("/location", url.Values{"id": {"missing"}}, writer), http.StatusNotFound)

	unknown := sampleLocation("HQ")
	unknown["owner"] = "me"
	expectStatus(t, env.post("/location", unknown, writer), http.StatusBadRequest)
}

func TestLocationAuthentication(t *testing.T) {
	env := newLocationEnv(t)
	token := env.token("u1", acctA, auth.PermAccountRead)

	resp := env.get("/location", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	resp.Body.Close()

	expectStatus(t, env.get("/location", nil, nil, &http.Cookie{Name: "access_token", Value: token}), http.StatusOK)
	expectStatus(t, env.get("/location", nil, map[string]string{"Authorization": "Basic dTpw"}), http.StatusUnauthorized)
	// A bad header is not rescued by a good cookie.
	expectStatus(t, env.get("/location", nil, bearerHeader("garbage"), &http.Cookie{Name: "access_token", Value: token}), http.StatusUnauthorized)

	refresh := env.refreshToken("u1", acctA, auth.PermAccountRead)
	expectStatus(t, env.get("/location", nil, bearerHeader(refresh)), http.StatusUnauthorized)

	priv, pub, err := auth.GenerateKeyPEM(2048)
	require.NoError(t, err)
	var other auth.KeyPair
	other.Private, err = auth.ParsePrivateKeyPEM(priv)
	require.NoError(t, err)
	other.Public, err = auth.ParsePublicKeyPEM(pub)
	require.NoError(t, err)
	forger, err := auth.NewCodec(other, auth.WithIssuer("eostre-test"), auth.WithAudience("eostre"))
	require.NoError(t, err)
	forged, _, err := forger.Mint(auth.NewClaims(auth.User{ID: "u1", Name: "u1", Type: auth.UserTypeUser}, acctA,
		auth.PermissionMap{acctA: {auth.PermAccountRead}}), auth.TokenAccess, accessTTL)
	require.NoError(t, err)
	expectStatus(t, env.get("/location", nil, bearerHeader(forged)), http.StatusUnauthorized)
}

func (e *locationEnv) refreshToken(userID, accountID string, perms ...string) string {
	e.t.Helper()
	claims := auth.NewClaims(auth.User{ID: userID, Name: userID, Type: auth.UserTypeUser}, accountID,
		auth.PermissionMap{accountID: perms})
	raw, _, err := e.signer.Mint(claims, auth.TokenRefresh, time.Hour)
	require.NoError(e.t, err)
	return raw
}

func TestLocationStream(t *testing.T) {
	env := newLocationEnv(t)
	token := env.token("u1", acctA, auth.PermAccountRead)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.baseURL+"/location/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": stream started\n", line)

	in := location.Input{Name: "Other", GeoPoint: location.GeoPoint{Type: "Point", Coordinates: []float64{1, 2}}}
	_, err = env.service.Create(ctx, location.Actor{UserID: "u2", AccountID: acctB}, in)
	require.NoError(t, err)
	in.Name = "Mine"
	mine, err := env.service.Create(ctx, location.Actor{UserID: "u1", AccountID: acctA}, in)
	require.NoError(t, err)

	var id, event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.Equal(t, mine.ID, id)
	require.Equal(t, "location.created", event)

	var change location.Change
	require.NoError(t, json.Unmarshal([]byte(data), &change))
	require.Equal(t, location.OpCreated, change.Op)
	require.Equal(t, acctA, change.AccountID)
	require.Equal(t, "Mine", change.Location.Name)
}
