package series

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Attr is one extracted metadata field. Its dynamic value is a string, a
// float64, or a []any of float64 and string elements, matching what the
// tag held.
type Attr struct {
	v any
}

// AttrOf wraps a plain value.
func AttrOf(v any) Attr {
	return Attr{v: v}
}

// Value returns the underlying value.
func (a Attr) Value() any {
	return a.v
}

// String formats the value for display.
func (a Attr) String() string {
	switch v := a.v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = AttrOf(e).String()
		}
		return strings.Join(parts, "\\")
	default:
		return fmt.Sprint(v)
	}
}

func (a Attr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.v)
}

func (a *Attr) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &a.v)
}

// Field defaults.
var (
	unknown   = "Unknown"
	empty     = ""
	emptyList = []any{}
)

// SeriesMetadata describes a whole series. It is taken from the first file
// of a run that decodes.
type SeriesMetadata struct {
	PatientName   Attr `json:"patient_name"`
	PatientID     Attr `json:"patient_id"`
	PatientSex    Attr `json:"patient_sex"`
	PatientAge    Attr `json:"patient_age"`
	PatientSize   Attr `json:"patient_size"`
	PatientWeight Attr `json:"patient_weight"`

	StudyDate        Attr `json:"study_date"`
	StudyTime        Attr `json:"study_time"`
	StudyDescription Attr `json:"study_description"`
	StudyInstanceUID Attr `json:"study_instance_uid"`
	AccessionNumber  Attr `json:"accession_number"`

	SeriesDescription Attr `json:"series_description"`
	SeriesNumber      Attr `json:"series_number"`
	SeriesDate        Attr `json:"series_date"`
	SeriesTime        Attr `json:"series_time"`
	SeriesInstanceUID Attr `json:"series_instance_uid"`

	Modality          Attr `json:"modality"`
	Manufacturer      Attr `json:"manufacturer"`
	ManufacturerModel Attr `json:"manufacturer_model"`
	SoftwareVersions  Attr `json:"software_versions"`

	BodyPartExamined     Attr `json:"body_part_examined"`
	SliceThickness       Attr `json:"slice_thickness"`
	SpacingBetweenSlices Attr `json:"spacing_between_slices"`
	PixelSpacing         Attr `json:"pixel_spacing"`
	Rows                 Attr `json:"rows"`
	Columns              Attr `json:"columns"`

	MRAcquisitionType     Attr `json:"mr_acquisition_type"`
	ScanningSequence      Attr `json:"scanning_sequence"`
	SequenceName          Attr `json:"sequence_name"`
	EchoTime              Attr `json:"echo_time"`
	RepetitionTime        Attr `json:"repetition_time"`
	MagneticFieldStrength Attr `json:"magnetic_field_strength"`

	TotalSlices int `json:"total_slices"`
}

// SliceMetadata describes one converted file.
type SliceMetadata struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`

	InstanceNumber Attr `json:"instance_number"`
	SOPInstanceUID Attr `json:"sop_instance_uid"`

	AcquisitionDate Attr `json:"acquisition_date"`
	AcquisitionTime Attr `json:"acquisition_time"`
	ContentDate     Attr `json:"content_date"`
	ContentTime     Attr `json:"content_time"`

	SliceLocation           Attr `json:"slice_location"`
	ImagePositionPatient    Attr `json:"image_position_patient"`
	ImageOrientationPatient Attr `json:"image_orientation_patient"`

	Rows         int  `json:"rows"`
	Columns      int  `json:"columns"`
	PixelSpacing Attr `json:"pixel_spacing"`

	WindowCenter      Attr `json:"window_center"`
	WindowWidth       Attr `json:"window_width"`
	WindowExplanation Attr `json:"window_explanation"`

	ImageType                 Attr `json:"image_type"`
	PhotometricInterpretation Attr `json:"photometric_interpretation"`
	SmallestPixelValue        Attr `json:"smallest_pixel_value"`
	LargestPixelValue         Attr `json:"largest_pixel_value"`
}

// Extractor maps tag sets to metadata records. A field that is absent,
// empty or malformed takes its default; extraction itself never fails.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor. A nil logger discards field errors.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{logger: logger}
}

// Series extracts the series record. totalSlices is stored as given.
func (x *Extractor) Series(tags TagSet, totalSlices int) SeriesMetadata {
	return SeriesMetadata{
		PatientName:   x.field(tags, PatientName, unknown),
		PatientID:     x.field(tags, PatientID, unknown),
		PatientSex:    x.field(tags, PatientSex, empty),
		PatientAge:    x.field(tags, PatientAge, empty),
		PatientSize:   x.field(tags, PatientSize, empty),
		PatientWeight: x.field(tags, PatientWeight, empty),

		StudyDate:        x.field(tags, StudyDate, unknown),
		StudyTime:        x.field(tags, StudyTime, empty),
		StudyDescription: x.field(tags, StudyDescription, empty),
		StudyInstanceUID: x.field(tags, StudyInstanceUID, empty),
		AccessionNumber:  x.field(tags, AccessionNumber, empty),

		SeriesDescription: x.field(tags, SeriesDescription, empty),
		SeriesNumber:      x.field(tags, SeriesNumber, empty),
		SeriesDate:        x.field(tags, SeriesDate, empty),
		SeriesTime:        x.field(tags, SeriesTime, empty),
		SeriesInstanceUID: x.field(tags, SeriesInstanceUID, empty),

		Modality:          x.field(tags, Modality, unknown),
		Manufacturer:      x.field(tags, Manufacturer, empty),
		ManufacturerModel: x.field(tags, ManufacturerModelName, empty),
		SoftwareVersions:  x.field(tags, SoftwareVersions, empty),

		BodyPartExamined:     x.field(tags, BodyPartExamined, empty),
		SliceThickness:       x.field(tags, SliceThickness, empty),
		SpacingBetweenSlices: x.field(tags, SpacingBetweenSlices, empty),
		PixelSpacing:         x.field(tags, PixelSpacing, emptyList),
		Rows:                 x.field(tags, Rows, 0.0),
		Columns:              x.field(tags, Columns, 0.0),

		MRAcquisitionType:     x.field(tags, MRAcquisitionType, empty),
		ScanningSequence:      x.field(tags, ScanningSequence, empty),
		SequenceName:          x.field(tags, SequenceName, empty),
		EchoTime:              x.field(tags, EchoTime, empty),
		RepetitionTime:        x.field(tags, RepetitionTime, empty),
		MagneticFieldStrength: x.field(tags, MagneticFieldStrength, empty),

		TotalSlices: totalSlices,
	}
}

// Slice extracts the record for the file at index in the sorted input.
func (x *Extractor) Slice(tags TagSet, index int, filename string) SliceMetadata {
	return SliceMetadata{
		Index:    index,
		Filename: filename,

		InstanceNumber: x.field(tags, InstanceNumber, float64(index+1)),
		SOPInstanceUID: x.field(tags, SOPInstanceUID, empty),

		AcquisitionDate: x.field(tags, AcquisitionDate, empty),
		AcquisitionTime: x.field(tags, AcquisitionTime, empty),
		ContentDate:     x.field(tags, ContentDate, empty),
		ContentTime:     x.field(tags, ContentTime, empty),

		SliceLocation:           x.field(tags, SliceLocation, empty),
		ImagePositionPatient:    x.field(tags, ImagePositionPatient, emptyList),
		ImageOrientationPatient: x.field(tags, ImageOrientationPatient, emptyList),

		Rows:         x.intField(tags, Rows),
		Columns:      x.intField(tags, Columns),
		PixelSpacing: x.field(tags, PixelSpacing, emptyList),

		WindowCenter:      x.field(tags, WindowCenter, empty),
		WindowWidth:       x.field(tags, WindowWidth, empty),
		WindowExplanation: x.field(tags, WindowCenterWidthExplanation, empty),

		ImageType:                 x.field(tags, ImageType, emptyList),
		PhotometricInterpretation: x.field(tags, PhotometricInterpretation, empty),
		SmallestPixelValue:        x.field(tags, SmallestImagePixelValue, empty),
		LargestPixelValue:         x.field(tags, LargestImagePixelValue, empty),
	}
}

// field applies the default policy to one key. A panicking TagSet or a
// value of unknown type yields the default.
func (x *Extractor) field(tags TagSet, key Key, def any) (a Attr) {
	a = AttrOf(def)
	defer func() {
		if r := recover(); r != nil {
			x.logger.Debug("tag extraction failed", "tag", key.Keyword(), "error", r)
			a = AttrOf(def)
		}
	}()

	v, ok := tags.Lookup(key)
	if !ok || v == nil {
		return a
	}

	switch v := v.(type) {
	case Bytes:
		return AttrOf(decodeBytes(v))
	case Sequence:
		out := make([]any, len(v))
		for i, e := range v {
			if n, ok := e.(Number); ok && !finite(n) {
				x.logger.Debug("tag has non-finite value", "tag", key.Keyword(), "value", float64(n))
				return a
			}
			out[i] = sequenceElement(e)
		}
		return AttrOf(out)
	case String:
		if v == "" {
			return a
		}
		return AttrOf(string(v))
	case Number:
		// NaN and Inf have no JSON form.
		if !finite(v) {
			x.logger.Debug("tag has non-finite value", "tag", key.Keyword(), "value", float64(v))
			return a
		}
		return AttrOf(float64(v))
	default:
		x.logger.Debug("tag has unsupported value type", "tag", key.Keyword(), "type", fmt.Sprintf("%T", v))
		return a
	}
}

// intField reads an integer attribute, 0 when absent or not a whole number.
func (x *Extractor) intField(tags TagSet, key Key) (n int) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Debug("tag extraction failed", "tag", key.Keyword(), "error", r)
			n = 0
		}
	}()

	v, ok := tags.Lookup(key)
	if !ok {
		return 0
	}
	switch v := v.(type) {
	case Number:
		if !finite(v) {
			return 0
		}
		return int(v)
	case String:
		i, err := strconv.Atoi(strings.TrimSpace(string(v)))
		if err != nil {
			x.logger.Debug("tag is not an integer", "tag", key.Keyword(), "value", string(v))
			return 0
		}
		return i
	case Sequence:
		if len(v) == 1 {
			return x.intField(Tags{key: v[0]}, key)
		}
	}
	return 0
}

func finite(n Number) bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sequenceElement(v Value) any {
	switch e := v.(type) {
	case Number:
		return float64(e)
	case String:
		return string(e)
	case Bytes:
		return decodeBytes(e)
	default:
		return fmt.Sprint(e)
	}
}

// decodeBytes decodes UTF-8, dropping invalid bytes, and trims whitespace.
func decodeBytes(b []byte) string {
	if utf8.Valid(b) {
		return strings.TrimSpace(string(b))
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return strings.TrimSpace(sb.String())
}
