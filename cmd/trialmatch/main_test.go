package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const study = `{
  "protocolSection": {
    "identificationModule": {"nctId": "NCT01000001", "briefTitle": "Metformin Add-on Study"},
    "statusModule": {"overallStatus": "RECRUITING"},
    "conditionsModule": {"conditions": ["Type 2 Diabetes"]},
    "eligibilityModule": {"sex": "ALL", "minimumAge": "18 Years"}
  }
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadPatient(t *testing.T) {
	yamlPath := writeFile(t, "patient.yaml", `
age: 52
sex: female
conditions:
  - breast cancer
medications: [tamoxifen]
location:
  city: Boston
  latitude: 42.36
  longitude: -71.06
identity:
  name: Jane Roe
`)
	patient, err := readPatient(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 52, patient.Age)
	assert.Equal(t, []string{"breast cancer"}, patient.Conditions)
	assert.True(t, patient.Location.HasCoordinates())
	assert.Equal(t, "Jane Roe", patient.Identity.Name)

	jsonPath := writeFile(t, "patient.json", `{"age": 30, "sex": "male", "conditions": ["asthma"]}`)
	patient, err = readPatient(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, domain.SexMale, patient.NormalizedSex())

	_, err = readPatient(writeFile(t, "empty.yaml", "age: 30\n"))
	var valErr *domain.ValidationError
	assert.ErrorAs(t, err, &valErr)

	_, err = readPatient(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTrialCommand(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studies/NCT01000001" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(study))
	}))
	defer registry.Close()

	t.Chdir(t.TempDir())
	t.Setenv("TRIALMATCH_TRIALS_BASE_URL", registry.URL)
	t.Setenv("TRIALMATCH_LOGGING_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"trial", "NCT01000001"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var trial domain.TrialCandidate
	require.NoError(t, json.Unmarshal(out.Bytes(), &trial))
	assert.Equal(t, "NCT01000001", trial.NCTID)
	assert.Equal(t, "Metformin Add-on Study", trial.Title)
}

func TestMigrateDown_RejectsBadSteps(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"migrate", "down", "zero"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestMatchCommand_RequiresPatient(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"match"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}
