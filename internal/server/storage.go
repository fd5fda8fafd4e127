package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"emberchat/internal/constants"
	"emberchat/pkg/backend/types"

	"github.com/gorilla/mux"
)

// handleSignURL mints a relative signed URL for one object. The token is
// an HMAC over bucket, path and expiry, so the serve endpoint can verify
// it statelessly.
func (s *Server) handleSignURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SignURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Bucket == "" || req.Path == "" {
			writeError(w, http.StatusBadRequest, "bucket and path are required")
			return
		}
		if req.ExpiresInSec <= 0 {
			req.ExpiresInSec = constants.DefaultSignedURLTTLSec
		}

		expiresAt := time.Now().UTC().Add(time.Duration(req.ExpiresInSec) * time.Second)
		token := s.signToken(req.Bucket, req.Path, expiresAt.Unix())

		// The token covers the raw values; the URL carries them escaped
		// so the serve route decodes back to the signed path.
		signedURL := fmt.Sprintf("/storage/%s/%s?expires=%d&token=%s",
			url.PathEscape(req.Bucket), escapeObjectPath(req.Path), expiresAt.Unix(), token)
		writeJSON(w, http.StatusOK, types.SignURLResponse{
			SignedURL: signedURL,
			ExpiresAt: expiresAt,
		})
	}
}

// handleUploadObject stores a blob under the media root.
func (s *Server) handleUploadObject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		local, err := s.objectPath(vars["bucket"], vars["path"])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := os.MkdirAll(filepath.Dir(local), constants.CacheDirPerm); err != nil {
			s.internalError(w, err)
			return
		}

		f, err := os.Create(local)
		if err != nil {
			s.internalError(w, err)
			return
		}
		defer f.Close()

		if _, err := io.Copy(f, r.Body); err != nil {
			os.Remove(local)
			s.internalError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

// handleServeObject serves a blob through a signed URL. The token replaces
// API-key auth; an expired or forged token gets 403.
func (s *Server) handleServeObject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		bucket, path := vars["bucket"], vars["path"]

		expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
		token := r.URL.Query().Get("token")
		if !hmac.Equal([]byte(token), []byte(s.signToken(bucket, path, expires))) {
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
		if time.Now().Unix() > expires {
			writeError(w, http.StatusForbidden, "signature expired")
			return
		}

		local, err := s.objectPath(bucket, path)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		http.ServeFile(w, r, local)
	}
}

// escapeObjectPath escapes each segment of an object path while keeping
// the slashes that separate them.
func escapeObjectPath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func (s *Server) signToken(bucket, path string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s/%s@%d", bucket, path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// objectPath maps bucket/path onto the media root, rejecting traversal.
func (s *Server) objectPath(bucket, path string) (string, error) {
	if s.mediaDir == "" {
		return "", fmt.Errorf("storage is not configured")
	}

	local := filepath.Join(s.mediaDir, filepath.Clean(bucket), filepath.Clean(path))
	root := filepath.Clean(s.mediaDir) + string(os.PathSeparator)
	if !strings.HasPrefix(local, root) {
		return "", fmt.Errorf("invalid object path")
	}
	return local, nil
}
