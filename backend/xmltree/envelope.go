package xmltree

// Envelope is the SOAP structure every request must carry.
type Envelope struct {
	Header  *Node
	Body    *Node
	Payload *Node
	// Method is the payload tag with its namespace prefix removed.
	Method string
}

// ParseEnvelope locates Header, Body and the payload element under the root.
// A missing Body or payload is malformed input.
func ParseEnvelope(doc *Document) (*Envelope, error) {
	root := doc.Root()
	if root == nil {
		return nil, ErrEmptyDocument
	}
	body := FirstChild(root, "Body")
	if body == nil {
		return nil, ErrNoBody
	}
	children := body.Children()
	if len(children) == 0 {
		return nil, ErrNoMethod
	}
	payload := children[0]
	method := payload.LocalName()
	if method == "" {
		return nil, ErrNoMethod
	}
	return &Envelope{
		Header:  FirstChild(root, "Header"),
		Body:    body,
		Payload: payload,
		Method:  method,
	}, nil
}
