package utils

import (
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mmdatafocus/stockcount_backend/config"
)

// CACHE_LIFESPAN bounds the catalog/count list caches; full-table reads
// within the window serve the cached snapshot, any upsert against the
// same store invalidates it synchronously.
func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// store a whole-table snapshot, <Type>List:$businessId
func StoreRedisList[T any](obj any, businessId string) error {
	var key string
	if businessId == "" {
		key = GetTypeName[T]() + "List"
	} else {
		key = GetTypeName[T]() + "List:" + businessId
	}
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// retrieve a list.
// returns nil if does not exist; businessId can be empty
func RetrieveRedisList[T any](businessId string) ([]*T, error) {
	var key string
	if businessId == "" {
		key = GetTypeName[T]() + "List"
	} else {
		key = GetTypeName[T]() + "List:" + businessId
	}

	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, <Type>List:$businessId
func RemoveRedisList[T any](businessId string) error {
	var key string = GetTypeName[T]() + "List:" + businessId
	return config.RemoveRedisKey(key)
}
