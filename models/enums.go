package models

import "time"

// ControlMethod is the per item-site lot/serial policy.
type ControlMethod string

const (
	ControlMethodNone   ControlMethod = "N"
	ControlMethodLot    ControlMethod = "L"
	ControlMethodSerial ControlMethod = "S"
)

func (c ControlMethod) IsLotSerial() bool {
	return c == ControlMethodLot || c == ControlMethodSerial
}

// TransClass groups transaction types for default locations and auto distribution.
type TransClass string

const (
	TransClassReceipt TransClass = "R"
	TransClassIssue   TransClass = "I"
	TransClassOther   TransClass = "O"
)

type OrderType string

const (
	OrderTypeNone     OrderType = ""
	OrderTypeSales    OrderType = "SO"
	OrderTypePurchase OrderType = "PO"
	OrderTypeWork     OrderType = "WO"
	OrderTypeTransfer OrderType = "TO"
	OrderTypeReturn   OrderType = "RA"
)

// TransType is the inventory history transaction code.
type TransType string

const (
	TransTypeScrap             TransType = "SI"
	TransTypeInterWarehouse    TransType = "TW"
	TransTypeAdjustment        TransType = "AD"
	TransTypeMiscReceipt       TransType = "RX"
	TransTypeMiscIssue         TransType = "IX"
	TransTypeReceivePurchase   TransType = "RP"
	TransTypeReceiveMaterial   TransType = "RM"
	TransTypeReceiveReturn     TransType = "RR"
	TransTypeIssueMaterial     TransType = "IM"
	TransTypeShip              TransType = "SH"
	TransTypeTransferReceipt   TransType = "TR"
	TransTypeReceiveProduction TransType = "RW"
)

// ClassifyTrans maps a transaction type (and order type for shipments) to its class.
func ClassifyTrans(transType TransType, orderType OrderType) TransClass {
	switch transType {
	case TransTypeReceiveMaterial, TransTypeReceivePurchase, TransTypeReceiveReturn, TransTypeMiscReceipt:
		return TransClassReceipt
	case TransTypeIssueMaterial:
		return TransClassIssue
	case TransTypeShip:
		if orderType == OrderTypeSales {
			return TransClassIssue
		}
	}
	return TransClassOther
}

// AutoLotSerialExcluded lists transaction types that never auto-create lot/serial numbers.
func AutoLotSerialExcluded(transType TransType) bool {
	return transType == TransTypeTransferReceipt || transType == TransTypeReceiveReturn
}

// DistRole tells what an itemlocdist row stands for inside a series tree.
type DistRole string

const (
	// DistRoleRoot is the parent record created by series allocation.
	DistRoleRoot DistRole = "P"
	// DistRoleLotSerial is lot/serial detail created under a child series.
	DistRoleLotSerial DistRole = "D"
	// DistRoleLocation is a quantity tagged to a location.
	DistRoleLocation DistRole = "L"
)

// SourceType records what a resolved distribution points at.
type SourceType string

const (
	SourceTypeNone SourceType = ""
	// SourceTypeLocation: SourceId is a location id, or -1 for lot/serial only.
	SourceTypeLocation SourceType = "L"
	// SourceTypeItemLoc: SourceId is an existing itemloc row (barcode pick).
	SourceTypeItemLoc SourceType = "I"
	// SourceTypeDetail: lot/serial detail still in flight.
	SourceTypeDetail SourceType = "D"
)

// NoLocation is the source id stamped on lot/serial-only distribution.
const NoLocation = -1

// LotSerialSourceInventory is the lsdetail source type for detail created by distribution.
const LotSerialSourceInventory = "I"

// EndOfTime is the expiration stamped on non-perishable lots.
var EndOfTime = time.Date(2100, 12, 31, 0, 0, 0, 0, time.UTC)
