package layout

import (
	"fortio.org/safecast"
)

func (e *LayoutEngine) computeLayout(t Type, state *layoutState) (TypeLayout, *LayoutError) {
	switch t.LayoutKind() {
	case KindVoid:
		return TypeLayout{Size: 0, Align: 1}, nil

	case KindScalar:
		return e.scalarLayout(t.ScalarSize()), nil

	case KindPointer:
		return e.ptrLayout(), nil

	case KindStruct:
		return e.structLayoutWithAttrs(t, state)

	case KindArray:
		elem, length := t.LayoutElem()
		return e.arrayFixedLayout(t, elem, length, state)

	default:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnsized, Type: t.LayoutKey()}
	}
}

func (e *LayoutEngine) ptrLayout() TypeLayout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize <= 0 {
		ptrSize = 8
	}
	if ptrAlign <= 0 {
		ptrAlign = ptrSize
	}
	return TypeLayout{Size: ptrSize, Align: ptrAlign}
}

func (e *LayoutEngine) scalarLayout(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1}
	}
	align := size
	if m := e.Target.MaxScalarAlign; m > 0 && align > m {
		align = m
	}
	return TypeLayout{Size: size, Align: align}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func (e *LayoutEngine) arrayFixedLayout(t, elem Type, length int64, state *layoutState) (TypeLayout, *LayoutError) {
	if length < 0 {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrNegativeLength, Type: t.LayoutKey(), Value: length}
	}
	n, convErr := safecast.Conv[int](length)
	if convErr != nil {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrLengthConversion, Type: t.LayoutKey(), Err: convErr}
	}
	elemLayout, err := e.layoutOf(elem, state)
	if err != nil {
		return TypeLayout{Size: 0, Align: 1}, err
	}
	elemAlign := max(elemLayout.Align, 1)
	stride := roundUp(elemLayout.Size, elemAlign)
	return TypeLayout{
		Size:  stride * n,
		Align: elemAlign,
	}, nil
}

func (e *LayoutEngine) structLayoutWithAttrs(t Type, state *layoutState) (TypeLayout, *LayoutError) {
	attrs := t.LayoutAttrs()
	if attrs.Packed && attrs.AlignOverride > 0 {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrPackedAlign, Type: t.LayoutKey()}
	}

	fields := t.LayoutFields()
	if len(fields) == 0 {
		layout := TypeLayout{Size: 0, Align: max(1, attrs.AlignOverride)}
		return layout, nil
	}
	offsets := make([]int, len(fields))
	aligns := make([]int, len(fields))

	if attrs.Packed {
		size := 0
		for i := range fields {
			fl, err := e.layoutOf(fields[i], state)
			if err != nil {
				return TypeLayout{Size: 0, Align: 1}, err
			}
			offsets[i] = size
			aligns[i] = 1
			size += fl.Size
		}
		return TypeLayout{
			Size:         size,
			Align:        1,
			FieldOffsets: offsets,
			FieldAligns:  aligns,
		}, nil
	}

	size := 0
	align := 1
	for i := range fields {
		fl, err := e.layoutOf(fields[i], state)
		if err != nil {
			return TypeLayout{Size: 0, Align: 1}, err
		}
		fAlign := max(fl.Align, 1)
		size = roundUp(size, fAlign)
		offsets[i] = size
		aligns[i] = fAlign
		size += fl.Size
		align = max(align, fAlign)
	}
	if attrs.AlignOverride > 0 {
		align = max(align, attrs.AlignOverride)
	}
	size = roundUp(size, align)
	return TypeLayout{
		Size:         size,
		Align:        align,
		FieldOffsets: offsets,
		FieldAligns:  aligns,
	}, nil
}
