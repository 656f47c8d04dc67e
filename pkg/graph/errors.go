package graph

import (
	"net/http"

	"github.com/aimemory/platform/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("GRAPH")

var (
	CodeNodeNotFound = ErrRegistry.Register("NODE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Graph node not found")
	CodeEdgeNotFound = ErrRegistry.Register("EDGE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Graph edge not found")
	CodeEmptyNodeID  = ErrRegistry.Register("EMPTY_NODE_ID", errx.TypeValidation, http.StatusBadRequest, "Node id cannot be empty")
	CodeEmptyRelType = ErrRegistry.Register("EMPTY_REL_TYPE", errx.TypeValidation, http.StatusBadRequest, "Relation type cannot be empty")
	CodeSelfEdge     = ErrRegistry.Register("SELF_EDGE", errx.TypeValidation, http.StatusBadRequest, "An edge cannot connect a node to itself")
	CodeNoStartNodes = ErrRegistry.Register("NO_START_NODES", errx.TypeValidation, http.StatusBadRequest, "Traversal requires at least one start node")
)

func ErrNodeNotFound() *errx.Error { return ErrRegistry.New(CodeNodeNotFound) }
func ErrEdgeNotFound() *errx.Error { return ErrRegistry.New(CodeEdgeNotFound) }
func ErrEmptyNodeID() *errx.Error  { return ErrRegistry.New(CodeEmptyNodeID) }
func ErrEmptyRelType() *errx.Error { return ErrRegistry.New(CodeEmptyRelType) }
func ErrSelfEdge() *errx.Error     { return ErrRegistry.New(CodeSelfEdge) }
func ErrNoStartNodes() *errx.Error { return ErrRegistry.New(CodeNoStartNodes) }
