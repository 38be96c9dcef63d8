// Package sample is the demonstration contract hosted by `rpcmesh serve`.
package sample

import (
	"reflect"
	"time"

	"github.com/morezero/rpcmesh/pkg/contract"
)

// ContractName is the full name of the sample contract.
const ContractName = "DataContract.IService"

// CustomObj is the value round-tripped by SetAndGetObj.
type CustomObj struct {
	Name string    `json:"Name"`
	Date time.Time `json:"Date"`
}

// CustomError is the declared fault of CallByCustomException.
type CustomError struct {
	Text string `json:"text"`
}

func (e *CustomError) Error() string { return "custom error: " + e.Text }

// Contract describes DataContract.IService.
var Contract = contract.Define(ContractName,
	contract.Version("1.0.0"),
	contract.APIKeyDefines(contract.APIKeyDefine{Key: "apiKey", Name: "X-Api-Key", Description: "caller key"}),
	contract.FaultDefines(contract.Fault{
		Kind:        "CustomError",
		StatusCode:  400,
		ErrorCode:   "CUSTOM",
		Description: "custom exception raised by the callee",
	}),
).
	Method("SetAndGetObj",
		contract.Params(contract.Param("obj", reflect.TypeOf(CustomObj{}))),
		contract.Returns(reflect.TypeOf(CustomObj{})),
	).
	Method("CallByCallBack",
		contract.Params(
			contract.Param("count", reflect.TypeOf(0)),
			contract.CallbackParam("progress", reflect.TypeOf(0)),
		),
		contract.Returns(reflect.TypeOf("")),
	).
	Method("CallByCancel",
		contract.Params(contract.CancelParam("ctx")),
	).
	Method("CallByCustomException",
		contract.Params(contract.Param("text", reflect.TypeOf(""))),
		contract.Faults(contract.Fault{Kind: "CustomError"}),
	).
	Method("SetStream",
		contract.Params(contract.StreamParam("body")),
		contract.Returns(reflect.TypeOf(int64(0))),
	).
	Method("Echo",
		contract.Generic(),
		contract.Params(contract.Param("value", nil)),
		contract.Returns(nil),
	).
	Method("WhoAmI",
		contract.Headers(contract.Header{Name: "X-Tenant", Description: "calling tenant"}),
		contract.APIKeys(contract.APIKey{Key: "apiKey"}),
		contract.Returns(reflect.TypeOf(map[string]string{})),
	).
	Method("Notify",
		contract.Params(contract.Param("text", reflect.TypeOf(""))),
		contract.MQPost(5),
	).
	MustBuild()
