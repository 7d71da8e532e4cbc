package models

import (
	"log"

	"github.com/mmdatafocus/itemloc_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Item{}, &ItemSite{},
		&WarehouseZone{}, &Location{}, &ItemLoc{},
		&ItemlocDist{}, &ItemlocSeriesSeq{},
		&LotSerial{}, &LotSerialDetail{}, &LotSerialSequence{},
		&InvHist{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
