// Package schemafixture builds schema artifacts for tests.
package schemafixture

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	ShoppingCartPackage = "com.example.shoppingcart"
	ShoppingCartService = "com.example.shoppingcart.ShoppingCart"
)

// ShoppingCartDescriptorSet returns a serialized FileDescriptorSet declaring the
// ShoppingCart example service.
func ShoppingCartDescriptorSet(t testing.TB) []byte {
	t.Helper()

	field := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			Number:   proto.Int32(num),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     typ.Enum(),
			JsonName: proto.String(name),
		}
	}
	str := descriptorpb.FieldDescriptorProto_TYPE_STRING
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{{
		Name:    proto.String("shoppingcart/shoppingcart.proto"),
		Package: proto.String(ShoppingCartPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("AddLineItem"), Field: []*descriptorpb.FieldDescriptorProto{
				field("user_id", 1, str),
				field("product_id", 2, str),
				field("name", 3, str),
				field("quantity", 4, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			}},
			{Name: proto.String("GetShoppingCart"), Field: []*descriptorpb.FieldDescriptorProto{
				field("user_id", 1, str),
			}},
			{Name: proto.String("Cart")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("ShoppingCart"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("AddItem"),
					InputType:  proto.String("." + ShoppingCartPackage + ".AddLineItem"),
					OutputType: proto.String("." + ShoppingCartPackage + ".Cart"),
				},
				{
					Name:       proto.String("GetCart"),
					InputType:  proto.String("." + ShoppingCartPackage + ".GetShoppingCart"),
					OutputType: proto.String("." + ShoppingCartPackage + ".Cart"),
				},
			},
		}},
	}}}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(set)
	if err != nil {
		t.Fatalf("marshal descriptor set: %v", err)
	}
	return data
}

// WriteArtifact writes the ShoppingCart descriptor set into dir and returns its path.
func WriteArtifact(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "user-function.desc")
	if err := os.WriteFile(path, ShoppingCartDescriptorSet(t), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}
