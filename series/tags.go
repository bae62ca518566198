package series

import (
	"fmt"
	"strconv"
)

// Key identifies a DICOM attribute the metadata extractor reads.
type Key int

const (
	PatientName Key = iota
	PatientID
	PatientSex
	PatientAge
	PatientSize
	PatientWeight

	StudyDate
	StudyTime
	StudyDescription
	StudyInstanceUID
	AccessionNumber

	SeriesDescription
	SeriesNumber
	SeriesDate
	SeriesTime
	SeriesInstanceUID

	Modality
	Manufacturer
	ManufacturerModelName
	SoftwareVersions

	BodyPartExamined
	SliceThickness
	SpacingBetweenSlices
	PixelSpacing
	Rows
	Columns

	MRAcquisitionType
	ScanningSequence
	SequenceName
	EchoTime
	RepetitionTime
	MagneticFieldStrength

	InstanceNumber
	SOPInstanceUID
	AcquisitionDate
	AcquisitionTime
	ContentDate
	ContentTime
	SliceLocation
	ImagePositionPatient
	ImageOrientationPatient
	WindowCenter
	WindowWidth
	WindowCenterWidthExplanation
	ImageType
	PhotometricInterpretation
	SmallestImagePixelValue
	LargestImagePixelValue

	numKeys
)

type keyInfo struct {
	keyword string
	group   uint16
	element uint16
}

var keyTable = [numKeys]keyInfo{
	PatientName:   {"PatientName", 0x0010, 0x0010},
	PatientID:     {"PatientID", 0x0010, 0x0020},
	PatientSex:    {"PatientSex", 0x0010, 0x0040},
	PatientAge:    {"PatientAge", 0x0010, 0x1010},
	PatientSize:   {"PatientSize", 0x0010, 0x1020},
	PatientWeight: {"PatientWeight", 0x0010, 0x1030},

	StudyDate:        {"StudyDate", 0x0008, 0x0020},
	StudyTime:        {"StudyTime", 0x0008, 0x0030},
	StudyDescription: {"StudyDescription", 0x0008, 0x1030},
	StudyInstanceUID: {"StudyInstanceUID", 0x0020, 0x000D},
	AccessionNumber:  {"AccessionNumber", 0x0008, 0x0050},

	SeriesDescription: {"SeriesDescription", 0x0008, 0x103E},
	SeriesNumber:      {"SeriesNumber", 0x0020, 0x0011},
	SeriesDate:        {"SeriesDate", 0x0008, 0x0021},
	SeriesTime:        {"SeriesTime", 0x0008, 0x0031},
	SeriesInstanceUID: {"SeriesInstanceUID", 0x0020, 0x000E},

	Modality:              {"Modality", 0x0008, 0x0060},
	Manufacturer:          {"Manufacturer", 0x0008, 0x0070},
	ManufacturerModelName: {"ManufacturerModelName", 0x0008, 0x1090},
	SoftwareVersions:      {"SoftwareVersions", 0x0018, 0x1020},

	BodyPartExamined:     {"BodyPartExamined", 0x0018, 0x0015},
	SliceThickness:       {"SliceThickness", 0x0018, 0x0050},
	SpacingBetweenSlices: {"SpacingBetweenSlices", 0x0018, 0x0088},
	PixelSpacing:         {"PixelSpacing", 0x0028, 0x0030},
	Rows:                 {"Rows", 0x0028, 0x0010},
	Columns:              {"Columns", 0x0028, 0x0011},

	MRAcquisitionType:     {"MRAcquisitionType", 0x0018, 0x0023},
	ScanningSequence:      {"ScanningSequence", 0x0018, 0x0020},
	SequenceName:          {"SequenceName", 0x0018, 0x0024},
	EchoTime:              {"EchoTime", 0x0018, 0x0081},
	RepetitionTime:        {"RepetitionTime", 0x0018, 0x0080},
	MagneticFieldStrength: {"MagneticFieldStrength", 0x0018, 0x0087},

	InstanceNumber:               {"InstanceNumber", 0x0020, 0x0013},
	SOPInstanceUID:               {"SOPInstanceUID", 0x0008, 0x0018},
	AcquisitionDate:              {"AcquisitionDate", 0x0008, 0x0022},
	AcquisitionTime:              {"AcquisitionTime", 0x0008, 0x0032},
	ContentDate:                  {"ContentDate", 0x0008, 0x0023},
	ContentTime:                  {"ContentTime", 0x0008, 0x0033},
	SliceLocation:                {"SliceLocation", 0x0020, 0x1041},
	ImagePositionPatient:         {"ImagePositionPatient", 0x0020, 0x0032},
	ImageOrientationPatient:      {"ImageOrientationPatient", 0x0020, 0x0037},
	WindowCenter:                 {"WindowCenter", 0x0028, 0x1050},
	WindowWidth:                  {"WindowWidth", 0x0028, 0x1051},
	WindowCenterWidthExplanation: {"WindowCenterWidthExplanation", 0x0028, 0x1055},
	ImageType:                    {"ImageType", 0x0008, 0x0008},
	PhotometricInterpretation:    {"PhotometricInterpretation", 0x0028, 0x0004},
	SmallestImagePixelValue:      {"SmallestImagePixelValue", 0x0028, 0x0106},
	LargestImagePixelValue:       {"LargestImagePixelValue", 0x0028, 0x0107},
}

// Keys returns every key the extractor reads, in declaration order.
func Keys() []Key {
	keys := make([]Key, 0, numKeys)
	for k := Key(0); k < numKeys; k++ {
		keys = append(keys, k)
	}
	return keys
}

// Keyword returns the DICOM keyword, e.g. "PatientName".
func (k Key) Keyword() string {
	if k < 0 || k >= numKeys {
		return "Key(" + strconv.Itoa(int(k)) + ")"
	}
	return keyTable[k].keyword
}

// Tag returns the DICOM group and element numbers of k.
func (k Key) Tag() (group, element uint16) {
	if k < 0 || k >= numKeys {
		return 0, 0
	}
	info := keyTable[k]
	return info.group, info.element
}

func (k Key) String() string {
	g, e := k.Tag()
	return fmt.Sprintf("%s (%04X,%04X)", k.Keyword(), g, e)
}

// Value is a decoded attribute value. The set of implementations is closed:
// String, Number, Bytes and Sequence.
type Value interface {
	isValue()
}

// String is a textual value, already stripped of DICOM padding.
type String string

// Number is a numeric value. Integer and decimal strings (IS, DS) decode to
// Number as well as binary integers and floats.
type Number float64

// Bytes is an uninterpreted byte value.
type Bytes []byte

// Sequence is a multi-valued attribute such as PixelSpacing or ImageType.
type Sequence []Value

func (String) isValue()   {}
func (Number) isValue()   {}
func (Bytes) isValue()    {}
func (Sequence) isValue() {}

// TagSet is a decoded tag dictionary.
type TagSet interface {
	// Lookup returns the value of key and whether it is present.
	Lookup(key Key) (Value, bool)
}

// Tags is a map-backed TagSet.
type Tags map[Key]Value

// Lookup implements TagSet.
func (t Tags) Lookup(key Key) (Value, bool) {
	v, ok := t[key]
	return v, ok
}
