package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	dicom "github.com/yasushi-saito/go-dicom"

	"github.com/151706061/epad-ws-sub000/models"
)

// InfoReader reads classification attributes with go-dicom. Implements
// models.DicomReader.
type InfoReader struct{}

func NewInfoReader() *InfoReader {
	return &InfoReader{}
}

func (r *InfoReader) ReadInfo(path string) (models.DicomInfo, error) {
	ds, err := parseFile(path)
	if err != nil {
		return models.DicomInfo{}, err
	}
	info := models.DicomInfo{
		Modality:    stringAttr(ds, "Modality"),
		FrameCount:  intAttr(ds, "NumberOfFrames"),
		SeriesUID:   stringAttr(ds, "SeriesInstanceUID"),
		StudyUID:    stringAttr(ds, "StudyInstanceUID"),
		PatientID:   stringAttr(ds, "PatientID"),
		PatientName: stringAttr(ds, "PatientName"),
	}
	if info.FrameCount == 0 {
		info.FrameCount = 1
	}
	return info, nil
}

func parseFile(path string) (*dicom.DataSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	ds, err := dicom.ReadDataSet(file, st.Size(), dicom.ReadOptions{})
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return ds, nil
}

func stringAttr(ds *dicom.DataSet, name string) string {
	elem, err := ds.FindElementByName(name)
	if err != nil || len(elem.Value) == 0 {
		return ""
	}
	if s, ok := elem.Value[0].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// intAttr tolerates the VR zoo: IS attributes arrive as strings, US as uint16.
func intAttr(ds *dicom.DataSet, name string) int {
	elem, err := ds.FindElementByName(name)
	if err != nil || len(elem.Value) == 0 {
		return 0
	}
	switch v := elem.Value[0].(type) {
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case int:
		return v
	}
	return 0
}

// LooksLikeDICOM sniffs the DICM preamble magic at offset 128. Files too short
// for a preamble are accepted only with a .dcm extension.
func LooksLikeDICOM(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, 128); err == nil && string(buf) == "DICM" {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ".dcm")
}

var _ models.DicomReader = (*InfoReader)(nil)
