package collage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

type CollageApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewCollageApi(apiUrl string) *CollageApi {
	return NewCollageApiWithContext(context.Background(), apiUrl)
}

func NewCollageApiWithContext(ctx context.Context, apiUrl string) *CollageApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &CollageApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *CollageApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type WallPhotosCallback apiCallback[*WallPhotosResult]

// `model.WallPhotosResult`
// photos are ordered by created_at descending
type WallPhotosResult struct {
	WallId Id       `json:"wall_id"`
	Photos []*Photo `json:"photos"`
}

func (self *CollageApi) WallPhotos(wallId Id, callback WallPhotosCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/wall/%s/photos", self.apiUrl, wallId),
		self.byJwt,
		&WallPhotosResult{},
		callback,
	)
}

func (self *CollageApi) WallPhotosSync(wallId Id) (*WallPhotosResult, error) {
	return self.WallPhotosSyncWithContext(self.ctx, wallId)
}

// the caller's ctx bounds the call, so a closed session cancels its snapshot
func (self *CollageApi) WallPhotosSyncWithContext(ctx context.Context, wallId Id) (*WallPhotosResult, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/wall/%s/photos", self.apiUrl, wallId),
		self.byJwt,
		&WallPhotosResult{},
		NewNoopApiCallback[*WallPhotosResult](),
	)
}

type AddPhotoCallback apiCallback[*AddPhotoResult]

type AddPhotoArgs struct {
	WallId Id     `json:"wall_id"`
	Url    string `json:"url"`
}

type AddPhotoResult struct {
	Photo *Photo         `json:"photo,omitempty"`
	Error *AddPhotoError `json:"error,omitempty"`
}

type AddPhotoError struct {
	// can be a hard limit or a rate limit
	WallLimitExceeded bool   `json:"wall_limit_exceeded"`
	Message           string `json:"message"`
}

func (self *CollageApi) AddPhoto(addPhoto *AddPhotoArgs, callback AddPhotoCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/wall/add-photo", self.apiUrl),
		addPhoto,
		self.byJwt,
		&AddPhotoResult{},
		callback,
	)
}

func (self *CollageApi) AddPhotoSync(addPhoto *AddPhotoArgs) (*AddPhotoResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/wall/add-photo", self.apiUrl),
		addPhoto,
		self.byJwt,
		&AddPhotoResult{},
		NewNoopApiCallback[*AddPhotoResult](),
	)
}

type RemovePhotoCallback apiCallback[*RemovePhotoResult]

type RemovePhotoArgs struct {
	PhotoId Id `json:"photo_id"`
}

type RemovePhotoResult struct {
	Error *RemovePhotoError `json:"error,omitempty"`
}

type RemovePhotoError struct {
	Message string `json:"message"`
}

func (self *CollageApi) RemovePhoto(removePhoto *RemovePhotoArgs, callback RemovePhotoCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/wall/remove-photo", self.apiUrl),
		removePhoto,
		self.byJwt,
		&RemovePhotoResult{},
		callback,
	)
}

func (self *CollageApi) RemovePhotoSync(removePhoto *RemovePhotoArgs) (*RemovePhotoResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/wall/remove-photo", self.apiUrl),
		removePhoto,
		self.byJwt,
		&RemovePhotoResult{},
		NewNoopApiCallback[*RemovePhotoResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
