package cli

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gmsas95/pillminder/internal/models"
)

// ImportFile is the YAML accepted by `pillminder import`. Either a single
// prescription's medicines or a list of prescriptions:
//
//	medicines:
//	  - name: Metformin
//	    dosage: 500mg
//	    frequency: twice daily
//	    duration: 10 days
//
//	prescriptions:
//	  - medicines: [...]
type ImportFile struct {
	Medicines     []models.Medicine    `yaml:"medicines"`
	Prescriptions []ImportPrescription `yaml:"prescriptions"`
}

type ImportPrescription struct {
	Medicines []models.Medicine `yaml:"medicines"`
}

// Batches returns one medicine list per prescription to create.
func (f ImportFile) Batches() [][]models.Medicine {
	var out [][]models.Medicine
	if len(f.Medicines) > 0 {
		out = append(out, f.Medicines)
	}
	for _, p := range f.Prescriptions {
		if len(p.Medicines) > 0 {
			out = append(out, p.Medicines)
		}
	}
	return out
}

func ParseImport(r io.Reader) (ImportFile, error) {
	var f ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return f, fmt.Errorf("import file is empty")
		}
		return f, fmt.Errorf("invalid import file: %w", err)
	}
	if len(f.Batches()) == 0 {
		return f, fmt.Errorf("import file lists no medicines")
	}
	return f, nil
}

func ReadImport(path string) (ImportFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return ImportFile{}, err
	}
	defer fh.Close()
	return ParseImport(fh)
}
