package xml

import "github.com/beevik/etree"

// Namespace definitions
const (
	// Calsched is the namespace of all documents of the HTTP adapter
	Calsched = "urn:calsched:1"
	// Prefix is the prefix Calsched is bound to
	Prefix = "C"
)

// AddNamespaces binds the calsched namespace on the root of doc
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	root.CreateAttr("xmlns:"+Prefix, Calsched)
}

// CreateRootElement creates the root element of doc in the calsched namespace
func CreateRootElement(doc *etree.Document, tag string) *etree.Element {
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tag)
	root.Space = Prefix
	AddNamespaces(doc)
	return root
}

// CreateElementWithNS creates a child of parent in the calsched namespace
func CreateElementWithNS(parent *etree.Element, tag string) *etree.Element {
	elem := parent.CreateElement(tag)
	elem.Space = Prefix
	return elem
}
