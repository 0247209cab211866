package value

// FieldType is the schema-side type tag (spec §3). Undefined must never
// reach the planner; schema construction rejects it.
type FieldType struct {
	Tag FieldTypeTag

	// Enum carries the enum name when Tag == FieldTypeEnum.
	Enum string
	// Elem carries the element type when Tag == FieldTypeSequence.
	Elem *FieldType
	// MapValue carries the value type when Tag == FieldTypeMap.
	MapValue *FieldType
	// Model carries the target model name when Tag == FieldTypeObject.
	Model string
	// Scalar carries the scalar Kind when Tag == FieldTypeScalar.
	Scalar Kind
}

type FieldTypeTag uint8

const (
	FieldTypeUndefined FieldTypeTag = iota
	FieldTypeScalar
	FieldTypeEnum
	FieldTypeSequence
	FieldTypeMap
	FieldTypeObject
)

func Scalar(k Kind) FieldType { return FieldType{Tag: FieldTypeScalar, Scalar: k} }

func EnumType(name string) FieldType { return FieldType{Tag: FieldTypeEnum, Enum: name} }

func SequenceType(elem FieldType) FieldType { return FieldType{Tag: FieldTypeSequence, Elem: &elem} }

func MapType(val FieldType) FieldType { return FieldType{Tag: FieldTypeMap, MapValue: &val} }

func ObjectType(model string) FieldType { return FieldType{Tag: FieldTypeObject, Model: model} }

// Family buckets a FieldType into the operator-grammar families of spec
// §4.D. Enum and sequence types get their own families; map and object types
// return FamilyUnsupported.
type Family uint8

const (
	FamilyUnsupported Family = iota
	FamilyIDNumberDateString // id / number / date / date-time / string (shared base ops)
	FamilyBool
	FamilyEnumFamily
	FamilyStringExtra // marker that the field additionally gets contains/startsWith/...
	FamilySequence
)

// ClassifyScalar returns the operator family for a scalar Kind/FieldType.
func ClassifyScalar(ft FieldType) Family {
	switch ft.Tag {
	case FieldTypeEnum:
		return FamilyEnumFamily
	case FieldTypeSequence:
		return FamilySequence
	case FieldTypeScalar:
		switch ft.Scalar {
		case KindBool:
			return FamilyBool
		case KindString:
			return FamilyStringExtra
		case KindObjectID, KindDate, KindDateTime,
			KindInt8, KindInt16, KindInt32, KindInt64, KindInt128,
			KindUint8, KindUint16, KindUint32, KindUint64, KindUint128,
			KindFloat32, KindFloat64, KindDecimal:
			return FamilyIDNumberDateString
		}
	}
	return FamilyUnsupported
}
