package github

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeGitHub is an in-memory subset of the GitHub REST API.
type fakeGitHub struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	repos         map[string]string // name -> head commit sha
	creates       int
	createdIn     string
	blobs         map[string]string // sha -> content
	commits       []fakeCommit
	refUpdates    int
	pagesEnabled  map[string]bool
	pagesRequests int
	files         map[string]string // repo/path -> blob sha
	fileWrites    []fakeFileWrite
	runs          []map[string]any
	failPath      string
	authHeaders   []string
}

type fakeCommit struct {
	SHA     string
	Message string
	Parent  string
	Tree    string
}

type fakeFileWrite struct {
	Method  string
	Path    string
	Message string
	SHA     string
	Content string
	Branch  string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{
		t:            t,
		repos:        map[string]string{},
		blobs:        map[string]string{},
		pagesEnabled: map[string]bool{},
		files:        map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.getRepo)
	mux.HandleFunc("POST /user/repos", f.createRepo)
	mux.HandleFunc("POST /orgs/{org}/repos", f.createRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/heads/{branch}", f.getRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/commits/{sha}", f.getCommit)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/blobs", f.createBlob)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/trees", f.createTree)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/commits", f.createCommit)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/git/refs/heads/{branch}", f.updateRef)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pages", f.getPages)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages", f.enablePages)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.getContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.putContents)
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/runs", f.listRuns)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		fail := f.failPath != "" && r.Method+" "+r.URL.Path == f.failPath
		f.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) URL() string { return f.server.URL + "/" }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (f *fakeGitHub) decode(r *http.Request, v any) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("reading body: %v", err)
		return
	}
	if err := json.Unmarshal(body, v); err != nil {
		f.t.Errorf("decoding %s %s: %v", r.Method, r.URL.Path, err)
	}
}

func (f *fakeGitHub) getRepo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("repo")
	if _, ok := f.repos[name]; !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "default_branch": "main"})
}

func (f *fakeGitHub) createRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Private     bool   `json:"private"`
		AutoInit    bool   `json:"auto_init"`
	}
	f.decode(r, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.createdIn = r.PathValue("org")
	f.repos[req.Name] = "init"
	f.commits = append(f.commits, fakeCommit{SHA: "init", Message: "Initial commit", Tree: "tree-init"})
	writeJSON(w, http.StatusCreated, map[string]any{
		"name":           req.Name,
		"description":    req.Description,
		"private":        req.Private,
		"default_branch": "main",
	})
}

func (f *fakeGitHub) getRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head, ok := f.repos[r.PathValue("repo")]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + r.PathValue("branch"),
		"object": map[string]string{"sha": head, "type": "commit"},
	})
}

func (f *fakeGitHub) getCommit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := r.PathValue("sha")
	for _, c := range f.commits {
		if c.SHA == sha {
			writeJSON(w, http.StatusOK, map[string]any{"sha": c.SHA, "tree": map[string]string{"sha": c.Tree}})
			return
		}
	}
	notFound(w)
}

func (f *fakeGitHub) createBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	f.decode(r, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("blob-%d", len(f.blobs)+1)
	f.blobs[sha] = req.Content
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (f *fakeGitHub) createTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string `json:"path"`
			SHA  string `json:"sha"`
		} `json:"tree"`
	}
	f.decode(r, &req)
	if req.BaseTree == "" {
		f.t.Errorf("tree created without base_tree")
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sha": fmt.Sprintf("tree-%d", len(req.Tree))})
}

func (f *fakeGitHub) createCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	f.decode(r, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	c := fakeCommit{SHA: fmt.Sprintf("commit-%d", len(f.commits)+1), Message: req.Message, Tree: req.Tree}
	if len(req.Parents) > 0 {
		c.Parent = req.Parents[0]
	}
	f.commits = append(f.commits, c)
	writeJSON(w, http.StatusCreated, map[string]any{"sha": c.SHA})
}

func (f *fakeGitHub) updateRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	f.decode(r, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[r.PathValue("repo")] = req.SHA
	f.refUpdates++
	writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + r.PathValue("branch"), "object": map[string]string{"sha": req.SHA}})
}

func (f *fakeGitHub) getPages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pagesEnabled[r.PathValue("repo")] {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"build_type": "workflow"})
}

func (f *fakeGitHub) enablePages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildType string `json:"build_type"`
	}
	f.decode(r, &req)
	if req.BuildType != "workflow" {
		f.t.Errorf("pages enabled with build_type %q", req.BuildType)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pagesRequests++
	f.pagesEnabled[r.PathValue("repo")] = true
	writeJSON(w, http.StatusCreated, map[string]any{"build_type": req.BuildType})
}

func (f *fakeGitHub) getContents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.files[r.PathValue("repo")+"/"+r.PathValue("path")]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "file", "path": r.PathValue("path"), "sha": sha})
}

func (f *fakeGitHub) putContents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Content []byte `json:"content"`
		SHA     string `json:"sha"`
		Branch  string `json:"branch"`
	}
	f.decode(r, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.PathValue("repo") + "/" + r.PathValue("path")
	f.files[key] = fmt.Sprintf("file-%d", len(f.fileWrites)+1)
	f.fileWrites = append(f.fileWrites, fakeFileWrite{
		Method: r.Method, Path: r.PathValue("path"), Message: req.Message,
		SHA: req.SHA, Content: string(req.Content), Branch: req.Branch,
	})
	status := http.StatusOK
	if req.SHA == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]string{"sha": f.files[key]},
		"commit":  map[string]string{"sha": fmt.Sprintf("edit-commit-%d", len(f.fileWrites))},
	})
}

func (f *fakeGitHub) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("per_page") != "1" {
		f.t.Errorf("runs listed with per_page=%q", r.URL.Query().Get("per_page"))
	}
	head := r.URL.Query().Get("head_sha")
	f.mu.Lock()
	defer f.mu.Unlock()
	runs := make([]map[string]any, 0, len(f.runs))
	for _, run := range f.runs {
		if head == "" || run["head_sha"] == head {
			runs = append(runs, run)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(runs), "workflow_runs": runs})
}
