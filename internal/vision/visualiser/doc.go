// Package visualiser streams per-frame overlay annotations to remote
// viewers over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code: the service descriptor in grpc_server.go is written out
// by hand in the shape protoc-gen-go-grpc would emit.
package visualiser
