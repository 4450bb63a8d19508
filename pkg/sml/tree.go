package sml

import "github.com/smgw-cluster/segw-core/pkg/obis"

// Tree is the recursive parameter tree returned by GetProcParameter and
// walked by the config store's response builders. A leaf node
// carries a Value; an inner node carries child nodes instead.
type Tree struct {
	Name     obis.Code
	Value    *Value
	Children []*Tree
}

// Leaf builds a terminal tree node holding a scalar value.
func Leaf(name obis.Code, v Value) *Tree {
	return &Tree{Name: name, Value: &v}
}

// Node builds an inner tree node with the given children.
func Node(name obis.Code, children ...*Tree) *Tree {
	return &Tree{Name: name, Children: children}
}

// IsLeaf reports whether this node carries a scalar value rather than
// children.
func (t *Tree) IsLeaf() bool { return t.Value != nil }

// Find performs a depth-first search for the first node named name,
// returning nil if absent.
func (t *Tree) Find(name obis.Code) *Tree {
	if t == nil {
		return nil
	}
	if t.Name == name {
		return t
	}
	for _, c := range t.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Encode renders the tree as a PROC_PAR_VALUE_TIME choice, matching the
// 3-element "[1 name] [2 value-time-choice] [3 period-list]" SML_Tree
// structure: here simplified to the name/value-or-children pair the
// rest of this implementation needs.
func (t *Tree) Encode() []byte {
	if t.IsLeaf() {
		out := EncodeListHeader(2)
		out = append(out, EncodeOctetString(t.Name[:])...)
		out = append(out, EncodeValue(*t.Value)...)
		return out
	}
	out := EncodeListHeader(1 + len(t.Children))
	out = append(out, EncodeOctetString(t.Name[:])...)
	for _, c := range t.Children {
		out = append(out, c.Encode()...)
	}
	return out
}

// DecodeTree decodes a tree node, returning bytes consumed.
func DecodeTree(buf []byte) (*Tree, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	pos := hdrLen
	nameBytes, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n

	name, err := obis.FromBytes(nameBytes)
	if err != nil {
		// administrative/placeholder nodes may carry a shorter or empty
		// name; fall back to the zero code rather than failing the parse.
		name = obis.Code{}
	}

	// A 2-element node is a leaf (name + value) unless the second
	// element is itself a list, in which case it is a single child.
	if count == 2 {
		if pos >= len(buf) {
			return nil, 0, ErrTruncated
		}
		if (buf[pos]>>4)&0x7 != TypeList {
			v, n, err := DecodeValue(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += n
			return Leaf(name, v), pos, nil
		}
	}

	children := make([]*Tree, 0, count-1)
	for i := 0; i < count-1; i++ {
		child, n, err := DecodeTree(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		children = append(children, child)
	}
	return Node(name, children...), pos, nil
}
